package discord_bot

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"sd_control_bot/draft_form"
	"sd_control_bot/entities"
	"sd_control_bot/generation"
)

func memberID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}

	if i.User != nil {
		return i.User.ID
	}

	return ""
}

func memberName(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}

	if i.User != nil {
		return i.User.Username
	}

	return ""
}

func truncatePrompt(prompt string) string {
	if len(prompt) > 80 {
		return prompt[:80] + "..."
	}

	return prompt
}

// parseRepeatCount accepts a purely numeric message as "repeat my last
// prompt N times", clamped to the configured maximum.
func parseRepeatCount(text string, max int) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	for _, c := range text {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(text)
	if err != nil || n < 1 {
		return 0, false
	}

	if n > max {
		n = max
	}

	return n, true
}

func (b *botImpl) respondMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

// updateMenu rewrites the menu message the component interaction came from.
func (b *botImpl) updateMenu(s *discordgo.Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: components,
		},
	})
	if err != nil {
		log.Printf("Error updating menu: %v", err)
	}
}

func (b *botImpl) processMenuCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    mainMenuText,
			Components: mainMenuComponents(),
		},
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

func (b *botImpl) processHelpCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.respondMessage(s, i, helpText)
}

func (b *botImpl) processRedoCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	prompt, ok := b.generator.LastPrompt(memberID(i))
	if !ok {
		b.respondMessage(s, i, "🤷 Nothing to redo yet, send a prompt first.")

		return
	}

	b.startGenerationFromInteraction(s, i, prompt, false)
}

func (b *botImpl) processStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	report := b.generator.Status(context.Background())

	b.updateMenu(s, i, statusText(report, b.apiURL), backComponents())
}

func (b *botImpl) processSettings(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.updateMenu(s, i, settingsText(b.prefs.Get(memberID(i))), backComponents())
}

func (b *botImpl) processHistory(s *discordgo.Session, i *discordgo.InteractionCreate) {
	entries, err := b.generator.History(context.Background(), b.historyLimit)
	if err != nil {
		log.Printf("Error loading generation history: %v", err)

		b.updateMenu(s, i, "❌ Could not load the generation history.", backComponents())

		return
	}

	b.updateMenu(s, i, historyText(entries), backComponents())
}

func (b *botImpl) processSetResolution(s *discordgo.Session, i *discordgo.InteractionCreate, resolution string) {
	width, height, err := draft_form.ParseResolution(resolution)
	if err != nil {
		log.Printf("Invalid resolution component value %q: %v", resolution, err)

		return
	}

	if err := b.prefs.SetResolution(memberID(i), width, height); err != nil {
		log.Printf("Error setting resolution: %v", err)

		return
	}

	b.updateMenu(s, i, resolutionMenuText, resolutionMenuComponents("set_resolution", width, height))
}

func (b *botImpl) processFormSubmit(s *discordgo.Session, i *discordgo.InteractionCreate) {
	form := b.forms.Get(memberID(i))

	prompt := form.Prompt
	if prompt == "" {
		prompt = b.generator.RandomPrompt()
	}

	b.forms.ClearAwaiting(memberID(i))
	b.startGenerationFromInteraction(s, i, prompt, true)
}

func (b *botImpl) processInterrupt(s *discordgo.Session, i *discordgo.InteractionCreate, taskID string) {
	// The generating message keeps updating on its own; just ack the click.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}

	if err := b.generator.Interrupt(memberID(i), taskID); err != nil {
		log.Printf("Error interrupting task %s: %v", taskID, err)
	}
}

func (b *botImpl) processLike(s *discordgo.Session, i *discordgo.InteractionCreate, taskID string) {
	path, err := b.generator.Like(memberID(i), taskID)
	if err != nil {
		b.respondMessage(s, i, fmt.Sprintf("❌ Could not save that image: %v", err))

		return
	}

	b.respondMessage(s, i, fmt.Sprintf("👍 Liked! Saved to %s", path))
}

// taskMessage is the single user-visible message a generation run keeps
// editing, whether it started from an interaction or a plain channel message.
type taskMessage struct {
	session   *discordgo.Session
	channelID string
	messageID string
}

func (m *taskMessage) edit(content string, components []discordgo.MessageComponent) {
	_, err := m.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         m.messageID,
		Channel:    m.channelID,
		Content:    &content,
		Components: components,
	})
	if err != nil {
		log.Printf("Error editing task message: %v", err)
	}
}

func (b *botImpl) startGenerationFromInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, prompt string, useDraftForm bool) {
	b.respondMessage(s, i, fmt.Sprintf("🎨 Generating: %s", truncatePrompt(prompt)))

	response, err := s.InteractionResponse(i.Interaction)
	if err != nil {
		log.Printf("Error fetching interaction response: %v", err)

		return
	}

	msg := &taskMessage{session: s, channelID: response.ChannelID, messageID: response.ID}

	go b.runGeneration(msg, memberID(i), memberName(i), prompt, generation.SubmitOptions{UseDraftForm: useDraftForm})
}

func (b *botImpl) startGenerationFromChannel(s *discordgo.Session, channelID string, author *discordgo.User, prompt string, useDraftForm bool) {
	sent, err := s.ChannelMessageSend(channelID, fmt.Sprintf("🎨 Generating: %s", truncatePrompt(prompt)))
	if err != nil {
		log.Printf("Error sending generation message: %v", err)

		return
	}

	msg := &taskMessage{session: s, channelID: channelID, messageID: sent.ID}

	go b.runGeneration(msg, author.ID, author.Username, prompt, generation.SubmitOptions{UseDraftForm: useDraftForm})
}

func (b *botImpl) startEnhanceFromInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, taskID string) {
	b.respondMessage(s, i, "✨ Enhancing that for you...")

	response, err := s.InteractionResponse(i.Interaction)
	if err != nil {
		log.Printf("Error fetching interaction response: %v", err)

		return
	}

	msg := &taskMessage{session: s, channelID: response.ChannelID, messageID: response.ID}

	go func() {
		defer b.recoverHandler()

		result, err := b.generator.Enhance(context.Background(), memberID(i), memberName(i), taskID,
			b.progressOptions(msg, generation.SubmitOptions{}))
		b.finishGeneration(msg, result, err)
	}()
}

// progressOptions wires the message edits a run performs while in flight:
// an interrupt button as soon as the task is admitted, then progress text.
func (b *botImpl) progressOptions(msg *taskMessage, opts generation.SubmitOptions) generation.SubmitOptions {
	var mu sync.Mutex
	var taskID string
	var content string

	opts.OnAccepted = func(id string) {
		mu.Lock()
		defer mu.Unlock()

		taskID = id
		content = fmt.Sprintf("🎨 Generating task `%s`...", id)

		msg.edit(content, interruptComponents(id))
	}

	opts.OnProgress = func(fraction, etaSeconds float64) {
		mu.Lock()
		defer mu.Unlock()

		if taskID == "" {
			return
		}

		text := fmt.Sprintf("🎨 Generating task `%s`... %.0f%%", taskID, fraction*100)
		if etaSeconds > 0 {
			text += fmt.Sprintf(" (ETA %.0fs)", etaSeconds)
		}

		if text == content {
			return
		}

		content = text

		msg.edit(content, interruptComponents(taskID))
	}

	return opts
}

func (b *botImpl) runGeneration(msg *taskMessage, memberID, username, prompt string, opts generation.SubmitOptions) {
	defer b.recoverHandler()

	result, err := b.generator.Submit(context.Background(), memberID, username, prompt, b.progressOptions(msg, opts))
	b.finishGeneration(msg, result, err)
}

func (b *botImpl) finishGeneration(msg *taskMessage, result *generation.Result, err error) {
	if err != nil {
		msg.edit(fmt.Sprintf("❌ %v", err), []discordgo.MessageComponent{})

		return
	}

	content := fmt.Sprintf("✅ `%s` finished: %s\n🎲 Seed: %d",
		result.TaskID, truncatePrompt(result.Prompt), result.Parameters.Seed)

	msg.edit(content, []discordgo.MessageComponent{})

	sent, sendErr := msg.session.ChannelMessageSendComplex(msg.channelID, &discordgo.MessageSend{
		Components: resultComponents(result.TaskID, false),
		Files: []*discordgo.File{
			{
				Name:        result.TaskID + ".png",
				ContentType: "image/png",
				Reader:      bytes.NewReader(result.Image),
			},
		},
	})
	if sendErr != nil {
		log.Printf("Error sending result image: %v", sendErr)

		return
	}

	if evicted, ok := b.likable.push(likableMessage{
		channelID: sent.ChannelID,
		messageID: sent.ID,
		taskID:    result.TaskID,
	}); ok {
		b.disableResultButtons(msg.session, evicted)
	}
}

// disableResultButtons is a cosmetic best-effort edit on the message that
// fell out of the recent window.
func (b *botImpl) disableResultButtons(s *discordgo.Session, m likableMessage) {
	_, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         m.messageID,
		Channel:    m.channelID,
		Components: resultComponents(m.taskID, true),
	})
	if err != nil {
		log.Printf("Error disabling buttons on old message: %v", err)
	}
}

func (b *botImpl) recoverHandler() {
	if r := recover(); r != nil {
		log.Printf("Panic in generation run: %v\n%s", r, debug.Stack())
	}
}

type likableMessage struct {
	channelID string
	messageID string
	taskID    string
}

// likableWindow is the bounded set of recent successful generation messages
// whose like/enhance buttons are still live.
type likableWindow struct {
	capacity int

	mu      sync.Mutex
	entries []likableMessage
}

func newLikableWindow(capacity int) *likableWindow {
	return &likableWindow{capacity: capacity}
}

func (w *likableWindow) push(m likableMessage) (likableMessage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, m)

	if len(w.entries) <= w.capacity {
		return likableMessage{}, false
	}

	evicted := w.entries[0]
	w.entries = w.entries[1:]

	return evicted, true
}

func (b *botImpl) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	if m.GuildID != b.guildID {
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	if !b.guard.IsAuthorized(m.Author.ID) {
		b.sendText(s, m.ChannelID, "❌ You are not authorized to use this bot.")

		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling message: %v\n%s", r, debug.Stack())

			if _, err := s.ChannelMessageSend(m.ChannelID, "❌ Something went wrong, check the logs."); err != nil {
				log.Printf("Error sending message: %v", err)
			}
		}
	}()

	switch b.forms.Awaiting(m.Author.ID) {
	case entities.AwaitingPrompt:
		b.forms.SetPrompt(m.Author.ID, content)
		b.forms.ClearAwaiting(m.Author.ID)
		b.sendText(s, m.ChannelID, formSummaryText(b.forms.Get(m.Author.ID)))

		return
	case entities.AwaitingSeed:
		seed, err := draft_form.ValidateSeedText(content)
		if err != nil {
			b.sendText(s, m.ChannelID, fmt.Sprintf("❌ %v", err))

			return
		}

		b.forms.SetSeed(m.Author.ID, seed)
		b.forms.ClearAwaiting(m.Author.ID)
		b.sendText(s, m.ChannelID, formSummaryText(b.forms.Get(m.Author.ID)))

		return
	case entities.AwaitingNegativePrompt:
		if err := b.prefs.SetNegativePrompt(m.Author.ID, content); err != nil {
			b.sendText(s, m.ChannelID, fmt.Sprintf("❌ %v", err))

			return
		}

		b.forms.ClearAwaiting(m.Author.ID)
		b.sendText(s, m.ChannelID, "📝 Negative prompt updated.")

		return
	}

	if count, ok := parseRepeatCount(content, b.maxRepeat); ok {
		prompt, found := b.generator.LastPrompt(m.Author.ID)
		if !found {
			b.sendText(s, m.ChannelID, "🤷 No previous prompt to repeat, send one first.")

			return
		}

		for n := 0; n < count; n++ {
			b.startGenerationFromChannel(s, m.ChannelID, m.Author, prompt, false)
		}

		return
	}

	b.startGenerationFromChannel(s, m.ChannelID, m.Author, content, false)
}

func (b *botImpl) sendText(s *discordgo.Session, channelID, content string) {
	if _, err := s.ChannelMessageSend(channelID, content); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
