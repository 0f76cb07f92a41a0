package networking

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const AckSize = 13 // transferId(8) + chunkIndex(4) + status(1)

// Ack confirms receipt of exactly one chunk
type Ack struct {
	TransferID int64
	ChunkIndex int
	Status     uint8 // See status package
}

// EncodeAck encodes acknowledgment into its fixed 13 byte datagram
func EncodeAck(ack Ack) []byte {
	out := make([]byte, 0, AckSize)
	out = binary.BigEndian.AppendUint64(out, uint64(ack.TransferID))
	out = binary.BigEndian.AppendUint32(out, uint32(int32(ack.ChunkIndex)))
	return append(out, ack.Status)
}

// DecodeAck decodes acknowledgment datagram
func DecodeAck(datagram []byte) (Ack, error) {
	if len(datagram) != AckSize {
		return Ack{}, errors.Wrapf(ErrMalformedFrame, "ack of %d bytes", len(datagram))
	}
	return Ack{
		TransferID: int64(binary.BigEndian.Uint64(datagram[0:8])),
		ChunkIndex: int(int32(binary.BigEndian.Uint32(datagram[8:12]))),
		Status:     datagram[12],
	}, nil
}
