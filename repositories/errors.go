package repositories

import "fmt"

// NotFoundError reports a missing record; errors.Is matches any NotFoundError.
type NotFoundError struct {
	entityName string
}

func NewNotFoundError(entityName string) *NotFoundError {
	return &NotFoundError{entityName: entityName}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.entityName)
}

func (e *NotFoundError) Is(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
