package task_ledger

import "sd_control_bot/entities"

type Ledger interface {
	Create(taskID, memberID, prompt string)
	Complete(taskID, status string)
	Get(taskID string) (*entities.TaskRecord, error)
	QueueDepth() int
	AttachResult(taskID string, image []byte, infoText string)
	Result(taskID string) ([]byte, string, error)
}

type SnapshotCache interface {
	Save(taskID, prompt string, params entities.GenerationParameters)
	Load(taskID string) (*entities.TaskSnapshot, error)
	Len() int
}
