package engine

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// IDGenerator produces entity ids and nonces.
// Implemented by RandomIDs (production) and testutil.SequentialIDs (tests).
type IDGenerator interface {
	NewID() uint64
}

// RandomIDs draws 64 random bits from a version 4 UUID.
//
// The version nibble and variant bits are skipped so every output bit is
// random. Ids are not checked for collisions across peers.
type RandomIDs struct{}

// NewID returns a random uint64.
//
// Panics if the system random source fails, like uuid.New.
func (RandomIDs) NewID() uint64 {
	u := uuid.New()
	b := [8]byte{u[0], u[1], u[2], u[3], u[4], u[5], u[7], u[9]}
	return binary.LittleEndian.Uint64(b[:])
}
