package ids

import "github.com/google/uuid"

// Generator issues fresh relational identifiers.
type Generator interface {
	NewID() (string, error)
}

type uuidGenerator struct{}

// NewUUIDGenerator constructs a Generator that issues UUIDv7 identifiers.
func NewUUIDGenerator() Generator {
	return &uuidGenerator{}
}

func (g *uuidGenerator) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
