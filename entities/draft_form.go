package entities

// AwaitingInput routes the next free-text message from a member to the field
// they are currently editing.
type AwaitingInput int

const (
	AwaitingNone AwaitingInput = iota
	AwaitingPrompt
	AwaitingSeed
	AwaitingNegativePrompt
)

// DraftForm is a per-member scratch area for assembling a generation request
// across multiple interactions. Empty/nil fields fall back to the member's
// preferences (or a random value) at submission time.
type DraftForm struct {
	Prompt     string
	Resolution string // "WxH", empty = use preferences
	Seed       *int64 // nil = random at submission
	HiresFix   bool
	Awaiting   AwaitingInput
}
