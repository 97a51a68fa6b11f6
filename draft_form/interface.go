package draft_form

import "sd_control_bot/entities"

type Store interface {
	Get(memberID string) entities.DraftForm
	SetPrompt(memberID, prompt string)
	SetResolution(memberID, resolution string)
	SetSeed(memberID string, seed *int64)
	ToggleHires(memberID string) bool
	Reset(memberID string)
	SetAwaiting(memberID string, state entities.AwaitingInput)
	ClearAwaiting(memberID string)
	Awaiting(memberID string) entities.AwaitingInput
	ResolveParameters(memberID string, base entities.GenerationParameters) entities.GenerationParameters
}
