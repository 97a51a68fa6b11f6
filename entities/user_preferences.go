package entities

// UserPreferences is the persistent per-member generation defaults record.
// A record is created lazily with the configured defaults on first access
// and is never deleted.
type UserPreferences struct {
	MemberID       string  `json:"member_id"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CfgScale       float64 `json:"cfg_scale"`
	SamplerName    string  `json:"sampler_name"`
	NegativePrompt string  `json:"negative_prompt"`
}

// Parameters converts the preference record into a base parameter set with a
// random (backend-chosen) seed and no high-res pass.
func (p *UserPreferences) Parameters() GenerationParameters {
	return GenerationParameters{
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		CfgScale:       p.CfgScale,
		SamplerName:    p.SamplerName,
		NegativePrompt: p.NegativePrompt,
		Seed:           -1,
	}
}
