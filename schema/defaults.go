package schema

import (
	"time"

	"github.com/google/uuid"
)

// UUID is a field default that generates a random UUID string.
func UUID() any { return uuid.NewString() }

// Now is a field default that returns the current time in UTC.
func Now() any { return time.Now().UTC() }
