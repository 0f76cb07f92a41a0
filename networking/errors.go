package networking

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedFrame is returned by decoders for datagrams that cannot be a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge means the encoded datagram would not fit the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum datagram size")
	// ErrFieldOverflow means a header field does not fit its wire width.
	ErrFieldOverflow = errors.New("header field out of range")
)

// AckExhaustedError reports a chunk that was never acknowledged
type AckExhaustedError struct {
	TransferID int64
	ChunkIndex int
	Attempts   int
}

func (e *AckExhaustedError) Error() string {
	return fmt.Sprintf("transfer %d: chunk %d not acknowledged after %d attempts",
		e.TransferID, e.ChunkIndex, e.Attempts)
}

// ChunkRejectedError reports a chunk the receiver refused to store
type ChunkRejectedError struct {
	TransferID int64
	ChunkIndex int
	Status     uint8
}

func (e *ChunkRejectedError) Error() string {
	return fmt.Sprintf("transfer %d: chunk %d rejected by receiver (status %d)",
		e.TransferID, e.ChunkIndex, e.Status)
}

// TransportError wraps a socket level failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
