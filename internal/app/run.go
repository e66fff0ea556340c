package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// uuidGenerator issues time-ordered run IDs.
type uuidGenerator struct{}

func (uuidGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
