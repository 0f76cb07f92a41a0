package networking

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"math"
	"time"

	"github.com/gofrs/uuid"
)

// NewTransferID returns a random non-negative 64-bit file transfer id
func NewTransferID() int64 {
	id := uuid.Must(uuid.NewV4())
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64() & math.MaxInt64)
}

// NewFrameID returns a 32-bit base id for a frame stream.
// Upper 16 bits come from the clock, lower 16 bits are random.
func NewFrameID() uint32 {
	timestamp := uint32(time.Now().UnixNano() / 1e6)

	var randBytes [2]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		panic("failed to generate random bytes: " + err.Error())
	}

	return (timestamp << 16) | uint32(binary.BigEndian.Uint16(randBytes[:]))
}
