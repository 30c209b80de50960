package engine

import "github.com/google/uuid"

// RunIDGenerator names runs. Persisted match records are keyed by run id.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-sortable UUIDv7 run ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7. It falls back to a random UUID if the
// clock source fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
