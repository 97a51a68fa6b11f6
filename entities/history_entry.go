package entities

import "time"

// HistoryEntry is one append-only generation log record, retained as a
// fixed-size trailing window and read back only for on-demand display.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	MemberID  string    `json:"member_id"`
	Username  string    `json:"username"`
	Prompt    string    `json:"prompt"`
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
