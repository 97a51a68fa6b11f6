package task_ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"sd_control_bot/entities"
	"sd_control_bot/repositories"
)

type snapshotCacheImpl struct {
	filePath string
	capacity int

	mu      sync.Mutex
	entries []entities.TaskSnapshot
}

type SnapshotConfig struct {
	FilePath string
	Capacity int
}

// NewSnapshotCache returns a size-bounded on-disk snapshot cache. The backing
// JSON file is reloaded on construction; inserting past capacity evicts the
// oldest entries (plain FIFO, no LRU).
func NewSnapshotCache(cfg SnapshotConfig) (SnapshotCache, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("missing file path")
	}

	if cfg.Capacity <= 0 {
		return nil, errors.New("missing capacity")
	}

	cache := &snapshotCacheImpl{
		filePath: cfg.FilePath,
		capacity: cfg.Capacity,
	}

	if err := cache.load(); err != nil {
		return nil, err
	}

	return cache, nil
}

func (c *snapshotCacheImpl) load() error {
	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		return err
	}

	if len(c.entries) > c.capacity {
		c.entries = c.entries[len(c.entries)-c.capacity:]
	}

	return nil
}

func (c *snapshotCacheImpl) persist() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		log.Printf("Error encoding snapshots: %v", err)

		return
	}

	if err := os.WriteFile(c.filePath, data, 0o644); err != nil {
		log.Printf("Error persisting snapshots to %s: %v", c.filePath, err)
	}
}

func (c *snapshotCacheImpl) Save(taskID, prompt string, params entities.GenerationParameters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, entities.TaskSnapshot{
		TaskID:     taskID,
		Prompt:     prompt,
		Parameters: params,
	})

	if len(c.entries) > c.capacity {
		c.entries = c.entries[len(c.entries)-c.capacity:]
	}

	c.persist()
}

func (c *snapshotCacheImpl) Load(taskID string) (*entities.TaskSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Newest entry wins if a task id ever repeats.
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].TaskID == taskID {
			snapshot := c.entries[i]

			return &snapshot, nil
		}
	}

	return nil, repositories.NewNotFoundError(fmt.Sprintf("snapshot for task %s", taskID))
}

func (c *snapshotCacheImpl) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
