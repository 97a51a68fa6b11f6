package discord_bot

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"sd_control_bot/draft_form"
	"sd_control_bot/entities"
	"sd_control_bot/generation"
	"sd_control_bot/preferences"
	"sd_control_bot/security"
)

type botImpl struct {
	botSession         *discordgo.Session
	guildID            string
	generator          generation.Service
	guard              security.Guard
	prefs              preferences.Store
	forms              draft_form.Store
	apiURL             string
	maxRepeat          int
	historyLimit       int
	removeCommands     bool
	registeredCommands []*discordgo.ApplicationCommand

	likable *likableWindow
}

type Config struct {
	BotToken       string
	GuildID        string
	Generator      generation.Service
	Guard          security.Guard
	Preferences    preferences.Store
	DraftForms     draft_form.Store
	APIURL         string
	MaxRepeat      int
	RecentWindow   int
	HistoryLimit   int
	RemoveCommands bool
}

func New(cfg Config) (Bot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("missing bot token")
	}

	if cfg.GuildID == "" {
		return nil, errors.New("missing guild ID")
	}

	if cfg.Generator == nil {
		return nil, errors.New("missing generation service")
	}

	if cfg.Guard == nil {
		return nil, errors.New("missing security guard")
	}

	if cfg.Preferences == nil {
		return nil, errors.New("missing preference store")
	}

	if cfg.DraftForms == nil {
		return nil, errors.New("missing draft form store")
	}

	if cfg.MaxRepeat <= 0 {
		return nil, errors.New("missing max repeat")
	}

	if cfg.RecentWindow <= 0 {
		return nil, errors.New("missing recent window size")
	}

	if cfg.HistoryLimit <= 0 {
		return nil, errors.New("missing history limit")
	}

	botSession, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}

	botSession.Identify.Intents |= discordgo.IntentMessageContent

	botSession.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Printf("Logged in as: %v#%v", s.State.User.Username, s.State.User.Discriminator)
	})

	err = botSession.Open()
	if err != nil {
		return nil, err
	}

	bot := &botImpl{
		botSession:         botSession,
		guildID:            cfg.GuildID,
		generator:          cfg.Generator,
		guard:              cfg.Guard,
		prefs:              cfg.Preferences,
		forms:              cfg.DraftForms,
		apiURL:             cfg.APIURL,
		maxRepeat:          cfg.MaxRepeat,
		historyLimit:       cfg.HistoryLimit,
		removeCommands:     cfg.RemoveCommands,
		registeredCommands: make([]*discordgo.ApplicationCommand, 0),
		likable:            newLikableWindow(cfg.RecentWindow),
	}

	err = bot.addCommands()
	if err != nil {
		return nil, err
	}

	botSession.AddHandler(bot.handleInteraction)
	botSession.AddHandler(bot.handleMessage)

	return bot, nil
}

func (b *botImpl) Start() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop

	err := b.teardown()
	if err != nil {
		log.Printf("Error tearing down bot: %v", err)
	}
}

func (b *botImpl) teardown() error {
	if b.removeCommands {
		for _, cmd := range b.registeredCommands {
			err := b.botSession.ApplicationCommandDelete(b.botSession.State.User.ID, b.guildID, cmd.ID)
			if err != nil {
				log.Printf("Error deleting '%s' command: %v", cmd.Name, err)
			}
		}
	}

	return b.botSession.Close()
}

func (b *botImpl) addCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "menu",
			Description: "Open the Stable Diffusion control panel",
		},
		{
			Name:        "redo",
			Description: "Repeat your last successful prompt",
		},
		{
			Name:        "help",
			Description: "Show how to use the bot",
		},
	}

	for _, command := range commands {
		log.Printf("Adding command '%s'...", command.Name)

		cmd, err := b.botSession.ApplicationCommandCreate(b.botSession.State.User.ID, b.guildID, command)
		if err != nil {
			log.Printf("Error creating '%s' command: %v", command.Name, err)

			return err
		}

		b.registeredCommands = append(b.registeredCommands, cmd)
	}

	return nil
}

// splitCustomID separates a component custom id into its action and the
// optional argument after the first colon.
func splitCustomID(customID string) (string, string) {
	action, arg, _ := strings.Cut(customID, ":")

	return action, arg
}

func (b *botImpl) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling interaction: %v\n%s", r, debug.Stack())

			b.respondMessage(s, i, "❌ Something went wrong, check the logs.")
		}
	}()

	// Every entry point is gated, not just the generation paths: menu
	// presses mutate preferences and draft forms too.
	if !b.guard.IsAuthorized(memberID(i)) {
		b.respondMessage(s, i, "❌ You are not authorized to use this bot.")

		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch i.ApplicationCommandData().Name {
		case "menu":
			b.processMenuCommand(s, i)
		case "redo":
			b.processRedoCommand(s, i)
		case "help":
			b.processHelpCommand(s, i)
		default:
			log.Printf("Unknown command '%v'", i.ApplicationCommandData().Name)
		}
	case discordgo.InteractionMessageComponent:
		b.processComponent(s, i)
	}
}

func (b *botImpl) processComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	action, arg := splitCustomID(i.MessageComponentData().CustomID)

	switch action {
	case "main_menu":
		b.updateMenu(s, i, mainMenuText, mainMenuComponents())
	case "txt2img":
		b.updateMenu(s, i, generationMenuText, generationMenuComponents())
	case "sd_status":
		b.processStatus(s, i)
	case "sd_settings":
		b.processSettings(s, i)
	case "resolution_settings":
		prefs := b.prefs.Get(memberID(i))
		b.updateMenu(s, i, resolutionMenuText, resolutionMenuComponents("set_resolution", prefs.Width, prefs.Height))
	case "set_resolution":
		b.processSetResolution(s, i, arg)
	case "negative_prompt_menu":
		b.updateMenu(s, i, negativePromptMenuText(b.prefs.Get(memberID(i))), negativePromptMenuComponents())
	case "negative_prompt_edit":
		b.forms.SetAwaiting(memberID(i), entities.AwaitingNegativePrompt)
		b.updateMenu(s, i, "📝 Send the new negative prompt as a message.", backComponents())
	case "negative_prompt_reset":
		b.prefs.ResetNegativePrompt(memberID(i))
		b.updateMenu(s, i, negativePromptMenuText(b.prefs.Get(memberID(i))), negativePromptMenuComponents())
	case "generation_history":
		b.processHistory(s, i)
	case "advanced_form":
		b.updateMenu(s, i, formSummaryText(b.forms.Get(memberID(i))), formMenuComponents())
	case "input_prompt":
		b.updateMenu(s, i, "✏️ Send the prompt as a plain message and I'll generate it.", backComponents())
	case "random_generate":
		b.startGenerationFromInteraction(s, i, b.generator.RandomPrompt(), false)
	case "form_set_prompt":
		b.forms.SetAwaiting(memberID(i), entities.AwaitingPrompt)
		b.updateMenu(s, i, "✏️ Send the prompt text as a message.", backToFormComponents())
	case "form_set_seed":
		b.forms.SetAwaiting(memberID(i), entities.AwaitingSeed)
		b.updateMenu(s, i, "🎲 Send a seed between 0 and 4294967295, or \"random\" to clear it.", backToFormComponents())
	case "form_set_resolution":
		form := b.forms.Get(memberID(i))
		width, height, _ := draft_form.ParseResolution(form.Resolution)
		b.updateMenu(s, i, resolutionMenuText, resolutionMenuComponents("form_resolution", width, height))
	case "form_resolution":
		b.forms.SetResolution(memberID(i), arg)
		b.updateMenu(s, i, formSummaryText(b.forms.Get(memberID(i))), formMenuComponents())
	case "form_toggle_hires":
		b.forms.ToggleHires(memberID(i))
		b.updateMenu(s, i, formSummaryText(b.forms.Get(memberID(i))), formMenuComponents())
	case "form_reset":
		b.forms.Reset(memberID(i))
		b.updateMenu(s, i, formSummaryText(b.forms.Get(memberID(i))), formMenuComponents())
	case "form_submit":
		b.processFormSubmit(s, i)
	case "interrupt":
		b.processInterrupt(s, i, arg)
	case "like":
		b.processLike(s, i, arg)
	case "enhance":
		b.startEnhanceFromInteraction(s, i, arg)
	default:
		log.Printf("Unknown message component '%v'", i.MessageComponentData().CustomID)
	}
}
