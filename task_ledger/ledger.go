package task_ledger

import (
	"fmt"
	"sync"

	"sd_control_bot/clock"
	"sd_control_bot/entities"
	"sd_control_bot/repositories"
)

type taskResult struct {
	image    []byte
	infoText string
}

type ledgerImpl struct {
	clock clock.Clock

	mu      sync.Mutex
	tasks   map[string]*entities.TaskRecord
	results map[string]taskResult
}

type Config struct {
	Clock clock.Clock
}

// New returns an in-memory task ledger. Records are never deleted within a
// process run; unbounded growth during a single run is accepted.
func New(cfg Config) Ledger {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	return &ledgerImpl{
		clock:   cfg.Clock,
		tasks:   make(map[string]*entities.TaskRecord),
		results: make(map[string]taskResult),
	}
}

func (l *ledgerImpl) Create(taskID, memberID, prompt string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tasks[taskID] = &entities.TaskRecord{
		ID:        taskID,
		MemberID:  memberID,
		Prompt:    prompt,
		CreatedAt: l.clock.Now(),
		Status:    entities.TaskStatusPending,
	}
}

func (l *ledgerImpl) Complete(taskID, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.tasks[taskID]
	if !ok {
		return
	}

	task.Completed = true
	task.Status = status
}

func (l *ledgerImpl) Get(taskID string) (*entities.TaskRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.tasks[taskID]
	if !ok {
		return nil, repositories.NewNotFoundError(fmt.Sprintf("task %s", taskID))
	}

	record := *task

	return &record, nil
}

// QueueDepth counts tasks not yet marked complete.
func (l *ledgerImpl) QueueDepth() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	depth := 0

	for _, task := range l.tasks {
		if !task.Completed {
			depth++
		}
	}

	return depth
}

// AttachResult keeps the raw result of a completed task (image bytes plus the
// backend's parameters text) so a later "like" can persist it to disk.
func (l *ledgerImpl) AttachResult(taskID string, image []byte, infoText string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.results[taskID] = taskResult{image: image, infoText: infoText}
}

func (l *ledgerImpl) Result(taskID string) ([]byte, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result, ok := l.results[taskID]
	if !ok {
		return nil, "", repositories.NewNotFoundError(fmt.Sprintf("result for task %s", taskID))
	}

	return result.image, result.infoText, nil
}
