package security

type Guard interface {
	IsAuthorized(memberID string) bool
	ValidatePrompt(prompt string) error
	CheckRate(memberID string) error
	RecordGeneration(memberID string)
}
