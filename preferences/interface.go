package preferences

import "sd_control_bot/entities"

type Store interface {
	Get(memberID string) *entities.UserPreferences
	SetResolution(memberID string, width, height int) error
	SetNegativePrompt(memberID, negativePrompt string) error
	ResetNegativePrompt(memberID string)
}
