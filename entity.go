package dispatch

import "time"

// Entity carries the bookkeeping fields shared by all persisted records.
// Version is the optimistic-concurrency token: the store bumps it on every
// successful conditional commit, and a commit whose expected version no
// longer matches fails with ErrStaleState.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewEntity returns an Entity stamped with the current UTC time at version 1.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now, Version: 1}
}
