package draft_form

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"sd_control_bot/entities"
)

const maxSeed = 4294967295

// Fixed high-res pass derivation. The second-pass step count is a fraction
// of the base step count, never below 1.
const (
	hiresScale             = 2.0
	hiresUpscaler          = "ESRGAN_4x"
	hiresDenoisingStrength = 0.5
	hiresSecondPassRatio   = 0.5
)

type storeImpl struct {
	mu    sync.Mutex
	forms map[string]*entities.DraftForm
}

func New() Store {
	return &storeImpl{
		forms: make(map[string]*entities.DraftForm),
	}
}

func (s *storeImpl) getLocked(memberID string) *entities.DraftForm {
	form, ok := s.forms[memberID]
	if !ok {
		form = &entities.DraftForm{}
		s.forms[memberID] = form
	}

	return form
}

func (s *storeImpl) Get(memberID string) entities.DraftForm {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.getLocked(memberID)
}

func (s *storeImpl) SetPrompt(memberID, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getLocked(memberID).Prompt = strings.TrimSpace(prompt)
}

func (s *storeImpl) SetResolution(memberID, resolution string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getLocked(memberID).Resolution = resolution
}

func (s *storeImpl) SetSeed(memberID string, seed *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getLocked(memberID).Seed = seed
}

func (s *storeImpl) ToggleHires(memberID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	form := s.getLocked(memberID)
	form.HiresFix = !form.HiresFix

	return form.HiresFix
}

func (s *storeImpl) Reset(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forms[memberID] = &entities.DraftForm{}
}

func (s *storeImpl) SetAwaiting(memberID string, state entities.AwaitingInput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getLocked(memberID).Awaiting = state
}

func (s *storeImpl) ClearAwaiting(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getLocked(memberID).Awaiting = entities.AwaitingNone
}

func (s *storeImpl) Awaiting(memberID string) entities.AwaitingInput {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(memberID).Awaiting
}

// ParseResolution splits a "WxH" string into positive dimensions.
func ParseResolution(resolution string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(resolution)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q", resolution)
	}

	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q", resolution)
	}

	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q", resolution)
	}

	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q", resolution)
	}

	return width, height, nil
}

// ValidateSeedText parses a member's free-text seed input. "skip" and
// "random" clear the override.
func ValidateSeedText(text string) (*int64, error) {
	text = strings.ToLower(strings.TrimSpace(text))

	if text == "skip" || text == "random" {
		return nil, nil
	}

	seed, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q", text)
	}

	if seed < 0 || seed > maxSeed {
		return nil, fmt.Errorf("seed out of range (0-%d)", int64(maxSeed))
	}

	return &seed, nil
}

// ResolveParameters layers the member's form overrides onto the base
// parameter set. A malformed resolution string silently falls back to the
// base dimensions; a nil seed is replaced with a fresh random one; the
// high-res flag derives the fixed upscaling parameter set.
func (s *storeImpl) ResolveParameters(memberID string, base entities.GenerationParameters) entities.GenerationParameters {
	form := s.Get(memberID)

	overrides := entities.ParameterOverrides{}

	if form.Resolution != "" {
		if width, height, err := ParseResolution(form.Resolution); err == nil {
			overrides.Width = &width
			overrides.Height = &height
		}
	}

	if form.Seed != nil {
		overrides.Seed = form.Seed
	} else {
		seed := rand.Int63n(maxSeed + 1)
		overrides.Seed = &seed
	}

	params := overrides.Merge(base)

	if form.HiresFix {
		params = WithHiresPass(params)
	}

	return params
}

// WithHiresPass returns params with the fixed high-res pass derivation
// applied.
func WithHiresPass(params entities.GenerationParameters) entities.GenerationParameters {
	params.EnableHR = true
	params.HRScale = hiresScale
	params.HRUpscaler = hiresUpscaler
	params.DenoisingStrength = hiresDenoisingStrength
	params.HRResizeX = 0
	params.HRResizeY = 0

	secondPass := int(float64(params.Steps) * hiresSecondPassRatio)
	if secondPass < 1 {
		secondPass = 1
	}

	params.HRSecondPassSteps = secondPass

	return params
}
