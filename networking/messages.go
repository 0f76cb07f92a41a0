package networking

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

const (
	FileHeaderSize  = 18 // transferId(8) + totalChunks(4) + chunkIndex(4) + nameLength(2)
	FrameHeaderSize = 8  // frameId(4) + totalParts(2) + partIndex(2)
)

// Chunk is one addressable slice of a transfer
type Chunk struct {
	TransferID  int64
	TotalChunks int
	Index       int
	Name        string // File variant only
	Payload     []byte
}

// Codec turns chunks into datagrams and back
type Codec interface {
	Encode(chunk *Chunk) ([]byte, error)
	Decode(datagram []byte) (*Chunk, error)
	// Overhead is the number of header bytes a chunk carrying name costs.
	Overhead(name string) int
	MaxDatagram() int
}

// FileCodec encodes the file variant with destination name
type FileCodec struct {
	MaxDatagramSize int
}

// NewFileCodec returns file variant codec limited to maxDatagram bytes per datagram
func NewFileCodec(maxDatagram int) *FileCodec {
	return &FileCodec{MaxDatagramSize: maxDatagram}
}

func (c *FileCodec) MaxDatagram() int {
	return c.MaxDatagramSize
}

func (c *FileCodec) Overhead(name string) int {
	return FileHeaderSize + len(name)
}

// Encode writes header, name and payload into one datagram
func (c *FileCodec) Encode(chunk *Chunk) ([]byte, error) {
	if len(chunk.Name) > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFieldOverflow, "name length %d", len(chunk.Name))
	}
	if chunk.TotalChunks < 1 || chunk.TotalChunks > math.MaxInt32 {
		return nil, errors.Wrapf(ErrFieldOverflow, "total chunks %d", chunk.TotalChunks)
	}
	if chunk.Index < 0 || chunk.Index > math.MaxInt32 {
		return nil, errors.Wrapf(ErrFieldOverflow, "chunk index %d", chunk.Index)
	}
	size := c.Overhead(chunk.Name) + len(chunk.Payload)
	if size > c.MaxDatagramSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes, limit %d", size, c.MaxDatagramSize)
	}

	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint64(out, uint64(chunk.TransferID))
	out = binary.BigEndian.AppendUint32(out, uint32(chunk.TotalChunks))
	out = binary.BigEndian.AppendUint32(out, uint32(chunk.Index))
	out = binary.BigEndian.AppendUint16(out, uint16(len(chunk.Name)))
	out = append(out, chunk.Name...)

	return append(out, chunk.Payload...), nil
}

// Decode parses a file variant datagram. Payload is copied so the datagram buffer may be reused.
func (c *FileCodec) Decode(datagram []byte) (*Chunk, error) {
	if len(datagram) < FileHeaderSize {
		return nil, errors.Wrapf(ErrMalformedFrame, "%d bytes is shorter than header", len(datagram))
	}

	chunk := &Chunk{
		TransferID:  int64(binary.BigEndian.Uint64(datagram[0:8])),
		TotalChunks: int(int32(binary.BigEndian.Uint32(datagram[8:12]))),
		Index:       int(int32(binary.BigEndian.Uint32(datagram[12:16]))),
	}
	if chunk.TotalChunks <= 0 {
		return nil, errors.Wrapf(ErrMalformedFrame, "total chunks %d", chunk.TotalChunks)
	}

	nameEnd := FileHeaderSize + int(binary.BigEndian.Uint16(datagram[16:18]))
	if nameEnd > len(datagram) {
		return nil, errors.Wrapf(ErrMalformedFrame, "name runs to %d of %d bytes", nameEnd, len(datagram))
	}
	chunk.Name = string(datagram[FileHeaderSize:nameEnd])
	chunk.Payload = append(make([]byte, 0, len(datagram)-nameEnd), datagram[nameEnd:]...)

	return chunk, nil
}

// FrameCodec encodes the compact frame variant used for image streams
type FrameCodec struct {
	MaxDatagramSize int
}

// NewFrameCodec returns frame variant codec limited to maxDatagram bytes per datagram
func NewFrameCodec(maxDatagram int) *FrameCodec {
	return &FrameCodec{MaxDatagramSize: maxDatagram}
}

func (c *FrameCodec) MaxDatagram() int {
	return c.MaxDatagramSize
}

// Overhead ignores name since frames carry none
func (c *FrameCodec) Overhead(string) int {
	return FrameHeaderSize
}

func (c *FrameCodec) Encode(chunk *Chunk) ([]byte, error) {
	if chunk.TransferID < 0 || chunk.TransferID > math.MaxUint32 {
		return nil, errors.Wrapf(ErrFieldOverflow, "frame id %d", chunk.TransferID)
	}
	if chunk.TotalChunks < 1 || chunk.TotalChunks > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFieldOverflow, "total parts %d", chunk.TotalChunks)
	}
	if chunk.Index < 0 || chunk.Index > math.MaxUint16 {
		return nil, errors.Wrapf(ErrFieldOverflow, "part index %d", chunk.Index)
	}
	size := FrameHeaderSize + len(chunk.Payload)
	if size > c.MaxDatagramSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes, limit %d", size, c.MaxDatagramSize)
	}

	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(chunk.TransferID))
	out = binary.BigEndian.AppendUint16(out, uint16(chunk.TotalChunks))
	out = binary.BigEndian.AppendUint16(out, uint16(chunk.Index))

	return append(out, chunk.Payload...), nil
}

func (c *FrameCodec) Decode(datagram []byte) (*Chunk, error) {
	if len(datagram) < FrameHeaderSize {
		return nil, errors.Wrapf(ErrMalformedFrame, "%d bytes is shorter than header", len(datagram))
	}

	chunk := &Chunk{
		TransferID:  int64(binary.BigEndian.Uint32(datagram[0:4])),
		TotalChunks: int(binary.BigEndian.Uint16(datagram[4:6])),
		Index:       int(binary.BigEndian.Uint16(datagram[6:8])),
	}
	if chunk.TotalChunks == 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "total parts 0")
	}
	chunk.Payload = append(make([]byte, 0, len(datagram)-FrameHeaderSize), datagram[FrameHeaderSize:]...)

	return chunk, nil
}
