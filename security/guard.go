package security

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sd_control_bot/clock"
)

// Fixed denylist, substring match on the lower-cased prompt. Deliberately
// simple: no stemming, no normalization beyond lower-casing.
var unsafeKeywords = []string{
	"nude", "naked", "nsfw", "sexual", "porn", "explicit",
	"violence", "gore", "blood", "kill", "death",
}

type guardImpl struct {
	authorized      map[string]struct{}
	maxPromptLength int
	rateLimit       int
	rateWindow      time.Duration
	clock           clock.Clock

	mu         sync.Mutex
	rateStamps map[string][]time.Time
}

type Config struct {
	AuthorizedUsers []string
	MaxPromptLength int
	RateLimit       int
	RateWindow      time.Duration
	Clock           clock.Clock
}

func New(cfg Config) (Guard, error) {
	if len(cfg.AuthorizedUsers) == 0 {
		return nil, errors.New("missing authorized users")
	}

	if cfg.MaxPromptLength <= 0 {
		return nil, errors.New("missing max prompt length")
	}

	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		return nil, errors.New("missing rate limit settings")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	authorized := make(map[string]struct{}, len(cfg.AuthorizedUsers))
	for _, id := range cfg.AuthorizedUsers {
		authorized[id] = struct{}{}
	}

	return &guardImpl{
		authorized:      authorized,
		maxPromptLength: cfg.MaxPromptLength,
		rateLimit:       cfg.RateLimit,
		rateWindow:      cfg.RateWindow,
		clock:           cfg.Clock,
		rateStamps:      make(map[string][]time.Time),
	}, nil
}

func (g *guardImpl) IsAuthorized(memberID string) bool {
	_, ok := g.authorized[memberID]

	return ok
}

func (g *guardImpl) ValidatePrompt(prompt string) error {
	if len(prompt) > g.maxPromptLength {
		return fmt.Errorf("prompt is too long (%d characters, max %d)", len(prompt), g.maxPromptLength)
	}

	lowered := strings.ToLower(prompt)

	for _, keyword := range unsafeKeywords {
		if strings.Contains(lowered, keyword) {
			return fmt.Errorf("prompt contains disallowed content: %s", keyword)
		}
	}

	return nil
}

// CheckRate enforces the sliding window: stamps older than the window are
// dropped, and the request is rejected once the remaining count reaches the
// limit. It does not record a stamp; RecordGeneration does that once a
// generation is actually accepted.
func (g *guardImpl) CheckRate(memberID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	kept := g.rateStamps[memberID][:0]

	for _, stamp := range g.rateStamps[memberID] {
		if now.Sub(stamp) < g.rateWindow {
			kept = append(kept, stamp)
		}
	}

	g.rateStamps[memberID] = kept

	if len(kept) >= g.rateLimit {
		return fmt.Errorf("rate limit reached, wait up to %d minute(s)", int(g.rateWindow.Minutes()))
	}

	return nil
}

func (g *guardImpl) RecordGeneration(memberID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rateStamps[memberID] = append(g.rateStamps[memberID], g.clock.Now())
}
