package generation

import (
	"context"

	"sd_control_bot/entities"
)

// ProgressFunc receives periodic backend progress updates while a generation
// is in flight.
type ProgressFunc func(fraction, etaSeconds float64)

type SubmitOptions struct {
	// UseDraftForm layers the member's draft form overrides onto their
	// preferences when resolving parameters.
	UseDraftForm bool
	// OnAccepted fires once the task has been admitted and has an id,
	// before the backend call starts.
	OnAccepted func(taskID string)
	OnProgress ProgressFunc
}

type Result struct {
	TaskID     string
	Prompt     string
	Image      []byte
	Parameters entities.GenerationParameters
}

type StatusReport struct {
	Online       bool
	CurrentModel string
	ModelCount   int
	SamplerCount int
	Progress     float64
	EtaSeconds   float64
}

type Service interface {
	Submit(ctx context.Context, memberID, username, prompt string, opts SubmitOptions) (*Result, error)
	Enhance(ctx context.Context, memberID, username, taskID string, opts SubmitOptions) (*Result, error)
	Like(memberID, taskID string) (string, error)
	Interrupt(memberID, taskID string) error
	RandomPrompt() string
	LastPrompt(memberID string) (string, bool)
	QueueDepth() int
	Status(ctx context.Context) *StatusReport
	History(ctx context.Context, limit int) ([]*entities.HistoryEntry, error)
}
