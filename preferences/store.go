package preferences

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"sd_control_bot/entities"
)

const maxNegativePromptLength = 1000

type storeImpl struct {
	filePath string
	defaults entities.UserPreferences

	mu      sync.Mutex
	records map[string]*entities.UserPreferences
}

type Config struct {
	FilePath string
	// Defaults seeds a record on first access. MemberID is ignored.
	Defaults entities.UserPreferences
}

func New(cfg Config) (Store, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("missing file path")
	}

	if cfg.Defaults.Width <= 0 || cfg.Defaults.Height <= 0 {
		return nil, errors.New("missing default dimensions")
	}

	store := &storeImpl{
		filePath: cfg.FilePath,
		defaults: cfg.Defaults,
		records:  make(map[string]*entities.UserPreferences),
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *storeImpl) load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	return json.Unmarshal(data, &s.records)
}

// persist rewrites the whole mapping. Write failures are logged and
// swallowed: the in-memory state stays authoritative for the rest of the
// process lifetime.
func (s *storeImpl) persist() {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		log.Printf("Error encoding preferences: %v", err)

		return
	}

	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		log.Printf("Error persisting preferences to %s: %v", s.filePath, err)
	}
}

func (s *storeImpl) getLocked(memberID string) *entities.UserPreferences {
	record, ok := s.records[memberID]
	if !ok {
		defaults := s.defaults
		defaults.MemberID = memberID

		record = &defaults
		s.records[memberID] = record

		s.persist()
	}

	return record
}

// Get returns the member's record, creating and persisting one with the
// configured defaults on first access. The returned record is a copy.
func (s *storeImpl) Get(memberID string) *entities.UserPreferences {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := *s.getLocked(memberID)

	return &record
}

func (s *storeImpl) SetResolution(memberID string, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", width, height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.getLocked(memberID)
	record.Width = width
	record.Height = height

	s.persist()

	return nil
}

func (s *storeImpl) SetNegativePrompt(memberID, negativePrompt string) error {
	if len(negativePrompt) > maxNegativePromptLength {
		return fmt.Errorf("negative prompt is too long (%d characters, max %d)",
			len(negativePrompt), maxNegativePromptLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.getLocked(memberID)
	record.NegativePrompt = negativePrompt

	s.persist()

	return nil
}

func (s *storeImpl) ResetNegativePrompt(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.getLocked(memberID)
	record.NegativePrompt = s.defaults.NegativePrompt

	s.persist()
}
