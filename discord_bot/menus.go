package discord_bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"sd_control_bot/entities"
	"sd_control_bot/generation"
)

const (
	mainMenuText       = "🎨 Stable Diffusion Control Panel\nPick an action:"
	generationMenuText = "🎨 Image Generation\nEnter a prompt or let me pick one:"
	resolutionMenuText = "📐 Pick a resolution:"
	helpText           = "🎨 Stable Diffusion Bot\n\n" +
		"`/menu` opens the control panel, `/redo` repeats your last prompt.\n" +
		"Any plain message is treated as a prompt and generated directly.\n" +
		"A plain number repeats your last prompt that many times.\n" +
		"Use the 👍 button to save an image locally and ✨ to re-run it upscaled."
)

var resolutionPresets = []struct {
	value string
	label string
}{
	{"1024x1024", "square"},
	{"1216x832", "landscape"},
	{"832x1216", "portrait"},
	{"1280x720", "wide 16:9"},
	{"720x1280", "tall 9:16"},
}

func button(label, customID string) discordgo.Button {
	return discordgo.Button{
		Label:    label,
		Style:    discordgo.SecondaryButton,
		CustomID: customID,
	}
}

func row(buttons ...discordgo.MessageComponent) discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: buttons}
}

func mainMenuComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(button("🎨 Generate", "txt2img"), button("🧪 Advanced Form", "advanced_form")),
		row(button("📊 Status", "sd_status"), button("🛠️ Settings", "sd_settings")),
		row(button("📐 Resolution", "resolution_settings"), button("📝 Negative Prompt", "negative_prompt_menu")),
		row(button("📈 History", "generation_history")),
	}
}

func generationMenuComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(button("✏️ Enter Prompt", "input_prompt"), button("🎲 Random", "random_generate")),
		row(button("🔙 Main Menu", "main_menu")),
	}
}

// resolutionMenuComponents marks the currently selected preset. The action
// prefix distinguishes the preference menu from the form submenu.
func resolutionMenuComponents(action string, currentWidth, currentHeight int) []discordgo.MessageComponent {
	current := fmt.Sprintf("%dx%d", currentWidth, currentHeight)
	components := make([]discordgo.MessageComponent, 0, len(resolutionPresets)+1)

	for _, preset := range resolutionPresets {
		label := fmt.Sprintf("%s (%s)", preset.value, preset.label)
		if preset.value == current {
			label = "✅ " + label
		}

		components = append(components, row(button(label, action+":"+preset.value)))
	}

	components = append(components, row(button("🔙 Main Menu", "main_menu")))

	return components
}

func negativePromptMenuComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(button("✏️ Edit", "negative_prompt_edit"), button("♻️ Reset to Default", "negative_prompt_reset")),
		row(button("🔙 Main Menu", "main_menu")),
	}
}

func formMenuComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(button("✏️ Prompt", "form_set_prompt"), button("📐 Resolution", "form_set_resolution"), button("🎲 Seed", "form_set_seed")),
		row(button("✨ Toggle Hires", "form_toggle_hires"), button("♻️ Reset", "form_reset")),
		row(button("🚀 Generate", "form_submit"), button("🔙 Main Menu", "main_menu")),
	}
}

func backComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(button("🔙 Main Menu", "main_menu")),
	}
}

func backToFormComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(button("🔙 Back to Form", "advanced_form")),
	}
}

func interruptComponents(taskID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(discordgo.Button{
			Label:    "⏹️ Interrupt",
			Style:    discordgo.DangerButton,
			CustomID: "interrupt:" + taskID,
		}),
	}
}

func resultComponents(taskID string, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		row(
			discordgo.Button{
				Label:    "👍 Like & Save",
				Style:    discordgo.SuccessButton,
				CustomID: "like:" + taskID,
				Disabled: disabled,
			},
			discordgo.Button{
				Label:    "✨ Enhance",
				Style:    discordgo.PrimaryButton,
				CustomID: "enhance:" + taskID,
				Disabled: disabled,
			},
		),
	}
}

func statusText(report *generation.StatusReport, apiURL string) string {
	if !report.Online {
		return fmt.Sprintf(
			"🔴 Stable Diffusion WebUI is offline\n\n"+
				"Make sure the WebUI is running with --api --listen\nAPI address: %s",
			apiURL)
	}

	text := fmt.Sprintf(
		"🟢 Stable Diffusion WebUI Status\n\n"+
			"📡 API: online\n"+
			"🎯 Current model: %s\n"+
			"📦 Available models: %d\n"+
			"⚙️ Available samplers: %d\n"+
			"📊 Current progress: %.1f%%\n",
		report.CurrentModel, report.ModelCount, report.SamplerCount, report.Progress*100)

	if report.EtaSeconds > 0 {
		text += fmt.Sprintf("⏱️ ETA: %.1fs\n", report.EtaSeconds)
	}

	return text
}

func settingsText(prefs *entities.UserPreferences) string {
	negative := prefs.NegativePrompt
	if len(negative) > 100 {
		negative = negative[:100] + "..."
	}

	return fmt.Sprintf(
		"🛠️ Current settings:\n\n"+
			"📐 Resolution: %dx%d\n"+
			"🔢 Steps: %d\n"+
			"🎚️ CFG Scale: %.1f\n"+
			"🎨 Sampler: %s\n\n"+
			"📝 Negative prompt:\n%s",
		prefs.Width, prefs.Height, prefs.Steps, prefs.CfgScale, prefs.SamplerName, negative)
}

func negativePromptMenuText(prefs *entities.UserPreferences) string {
	negative := prefs.NegativePrompt
	if negative == "" {
		negative = "(empty)"
	} else if len(negative) > 200 {
		negative = negative[:200] + "..."
	}

	return "📝 Negative prompt:\n" + negative
}

func historyText(entries []*entities.HistoryEntry) string {
	if len(entries) == 0 {
		return "📈 No generation history yet"
	}

	var sb strings.Builder

	sb.WriteString("📈 Recent generations:\n\n")

	for _, entry := range entries {
		status := "✅"
		if !entry.Success {
			status = "❌"
		}

		sb.WriteString(fmt.Sprintf("%s %s - %s\n", status, entry.CreatedAt.Format("15:04:05"), entry.Username))
		sb.WriteString(fmt.Sprintf("💭 %s\n", entry.Prompt))

		if !entry.Success && entry.Error != "" {
			sb.WriteString(fmt.Sprintf("⚠️ %s\n", entry.Error))
		}

		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formSummaryText(form entities.DraftForm) string {
	prompt := form.Prompt
	if prompt == "" {
		prompt = "not set (random will be used)"
	} else if len(prompt) > 30 {
		prompt = prompt[:30] + "..."
	}

	resolution := form.Resolution
	if resolution == "" {
		resolution = "not set (preferences)"
	}

	seed := "random"
	if form.Seed != nil {
		seed = strconv.FormatInt(*form.Seed, 10)
	}

	hires := "off"
	if form.HiresFix {
		hires = "on"
	}

	return fmt.Sprintf(
		"🧪 Advanced Generation Form\n\n"+
			"✏️ Prompt: %s\n"+
			"📐 Resolution: %s\n"+
			"🎲 Seed: %s\n"+
			"✨ Hires fix: %s",
		prompt, resolution, seed, hires)
}
