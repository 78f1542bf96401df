package model

import "time"

// SlotLock is an advisory lock serializing allocation for a single slot.
// The document id is the slot id, so at most one writer holds a slot at a
// time; ExpiresAt lets a crashed holder's lock be taken over.
type SlotLock struct {
	ID        string    `bson:"_id" json:"id"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
