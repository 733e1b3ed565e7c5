package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a new UUID string
func NewID() string {
	return uuid.New().String()
}

// ShortID returns the first segment of a UUID, used for log correlation
func ShortID(id string) string {
	if idx := strings.Index(id, "-"); idx > 0 {
		return id[:idx]
	}
	return id
}
