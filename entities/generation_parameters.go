package entities

// GenerationParameters is the fully resolved parameter set submitted to the
// backend for one generation. A seed of -1 asks the backend to pick one.
type GenerationParameters struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Steps             int     `json:"steps"`
	CfgScale          float64 `json:"cfg_scale"`
	SamplerName       string  `json:"sampler_name"`
	NegativePrompt    string  `json:"negative_prompt"`
	Seed              int64   `json:"seed"`
	EnableHR          bool    `json:"enable_hr"`
	HRScale           float64 `json:"hr_scale,omitempty"`
	HRUpscaler        string  `json:"hr_upscaler,omitempty"`
	DenoisingStrength float64 `json:"denoising_strength,omitempty"`
	HRSecondPassSteps int     `json:"hr_second_pass_steps,omitempty"`
	HRResizeX         int     `json:"hr_resize_x,omitempty"`
	HRResizeY         int     `json:"hr_resize_y,omitempty"`
}

// ParameterOverrides carries optional per-submission overrides layered on top
// of a base parameter set. Nil fields leave the base value untouched.
type ParameterOverrides struct {
	Width  *int
	Height *int
	Steps  *int
	Seed   *int64
}

// Merge returns a copy of base with any non-nil overrides applied.
func (o ParameterOverrides) Merge(base GenerationParameters) GenerationParameters {
	merged := base

	if o.Width != nil {
		merged.Width = *o.Width
	}

	if o.Height != nil {
		merged.Height = *o.Height
	}

	if o.Steps != nil {
		merged.Steps = *o.Steps
	}

	if o.Seed != nil {
		merged.Seed = *o.Seed
	}

	return merged
}
