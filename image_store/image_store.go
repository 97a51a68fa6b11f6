package image_store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"sd_control_bot/clock"
	"sd_control_bot/png_metadata"
)

type storeImpl struct {
	dir   string
	clock clock.Clock
}

type Store interface {
	Save(image []byte, parametersText string) (string, error)
}

type Config struct {
	Dir   string
	Clock clock.Clock
}

func New(cfg Config) (Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("missing directory")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	return &storeImpl{
		dir:   cfg.Dir,
		clock: cfg.Clock,
	}, nil
}

// Save writes the PNG to the store directory, named by generation timestamp,
// with the parameters text embedded in a tEXt chunk when available. A failed
// embed falls back to the raw bytes; the image is worth more than its
// metadata.
func (s *storeImpl) Save(image []byte, parametersText string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	if parametersText != "" {
		embedded, err := png_metadata.EmbedParameters(image, parametersText)
		if err != nil {
			log.Printf("Error embedding parameters metadata: %v", err)
		} else {
			image = embedded
		}
	}

	stamp := s.clock.Now().Format("20060102_150405")
	path := filepath.Join(s.dir, stamp+".png")

	// Same-second saves get a numeric suffix instead of clobbering.
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}

		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d.png", stamp, n))
	}

	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", err
	}

	return path, nil
}
