package entities

import "time"

// Task terminal statuses. Failed statuses are free-form "failed: ..." strings
// carrying the backend error text.
const (
	TaskStatusPending     = "pending"
	TaskStatusSuccess     = "success"
	TaskStatusInterrupted = "interrupted"
	TaskStatusLiked       = "liked"
)

// TaskRecord tracks one generation attempt for its process lifetime.
type TaskRecord struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	Completed bool      `json:"completed"`
	Status    string    `json:"status"`
}

// TaskSnapshot is the persisted {prompt, parameters} pair for a successfully
// completed task, enabling a later exact replay with a forced high-res pass.
type TaskSnapshot struct {
	TaskID     string               `json:"task_id"`
	Prompt     string               `json:"prompt"`
	Parameters GenerationParameters `json:"parameters"`
}
