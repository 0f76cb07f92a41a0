package comms

import (
	"log"
	"net"
	"time"

	"github.com/pkg/errors"

	"go_udp_copy/constants"
	"go_udp_copy/networking"
	"go_udp_copy/networking/status"
)

// Config tunes how chunks are put on the wire
type Config struct {
	ChunkSize  int           // Payload bytes per chunk
	Reliable   bool          // Wait for an ACK per chunk before sending the next
	AckTimeout time.Duration // Wait per attempt
	MaxRetries int           // Send attempts per chunk, first one included
}

// DefaultConfig returns reliable file variant configuration
func DefaultConfig() Config {
	return Config{
		ChunkSize:  constants.DEFAULT_CHUNK_SIZE,
		Reliable:   true,
		AckTimeout: constants.DEFAULT_ACK_TIMEOUT * time.Millisecond,
		MaxRetries: constants.DEFAULT_MAX_RETRIES,
	}
}

// Validate checks configuration is usable
func (c *Config) Validate() error {
	if c.ChunkSize < 1 {
		return errors.Errorf("chunk size %d", c.ChunkSize)
	}
	if c.Reliable {
		if c.MaxRetries < 1 {
			return errors.Errorf("max retries %d, need at least one attempt", c.MaxRetries)
		}
		if c.AckTimeout <= 0 {
			return errors.Errorf("ack timeout %v", c.AckTimeout)
		}
	}
	return nil
}

// Sender splits payloads into chunks and writes them to one remote receiver
type Sender struct {
	conn   networking.Transport
	remote net.Addr
	codec  networking.Codec
	cfg    Config
	acks   AckSource
	log    *log.Logger
}

// NewSender returns sender writing to remote over conn. acks may be nil when not reliable.
func NewSender(conn networking.Transport, remote net.Addr, codec networking.Codec, cfg Config, acks AckSource, logger *log.Logger) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sender config")
	}
	if cfg.Reliable && acks == nil {
		return nil, errors.New("reliable sender needs an ack source")
	}

	return &Sender{
		conn:   conn,
		remote: remote,
		codec:  codec,
		cfg:    cfg,
		acks:   acks,
		log:    logger,
	}, nil
}

// SplitPayload cuts payload into chunkSize parts. Empty payload yields one empty part.
func SplitPayload(payload []byte, chunkSize int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}

	parts := make([][]byte, 0, (len(payload)+chunkSize-1)/chunkSize)
	for start := 0; start < len(payload); start += chunkSize {
		end := min(start+chunkSize, len(payload))
		parts = append(parts, payload[start:end])
	}
	return parts
}

// Send transfers payload under transferID. In reliable mode chunks go strictly in index order
// and the first chunk that is never acknowledged ends the transfer.
func (s *Sender) Send(transferID int64, payload []byte, name string) error {
	parts := SplitPayload(payload, s.cfg.ChunkSize)

	// First part is always the largest.
	if size := s.codec.Overhead(name) + len(parts[0]); size > s.codec.MaxDatagram() {
		return errors.Wrapf(networking.ErrFrameTooLarge, "transfer %d needs %d byte datagrams, limit %d",
			transferID, size, s.codec.MaxDatagram())
	}

	for index, part := range parts {
		datagram, err := s.codec.Encode(&networking.Chunk{
			TransferID:  transferID,
			TotalChunks: len(parts),
			Index:       index,
			Name:        name,
			Payload:     part,
		})
		if err != nil {
			return errors.Wrapf(err, "transfer %d chunk %d", transferID, index)
		}

		if s.cfg.Reliable {
			err = s.sendAcknowledged(transferID, index, datagram)
		} else {
			err = s.write(datagram)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// sendAcknowledged writes datagram until its ACK arrives or attempts run out
func (s *Sender) sendAcknowledged(transferID int64, index int, datagram []byte) error {
	acks := s.acks.Register(transferID, index)
	defer s.acks.Unregister(transferID, index)

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.write(datagram); err != nil {
			return err
		}

		timer := time.NewTimer(s.cfg.AckTimeout)
		// Only the ACK for this exact chunk arrives here. A mismatched ACK is dropped by the router
		// and does not cut the wait short.
		select {
		case ack := <-acks:
			timer.Stop()
			if ack.Status != status.OK {
				return &networking.ChunkRejectedError{TransferID: transferID, ChunkIndex: index, Status: ack.Status}
			}
			return nil
		case <-timer.C:
			s.log.Printf("Transfer %d chunk %d not acknowledged (attempt %d/%d)\n",
				transferID, index, attempt, s.cfg.MaxRetries)
		}
	}

	return &networking.AckExhaustedError{TransferID: transferID, ChunkIndex: index, Attempts: s.cfg.MaxRetries}
}

func (s *Sender) write(datagram []byte) error {
	if _, err := s.conn.WriteTo(datagram, s.remote); err != nil {
		return &networking.TransportError{Op: "write", Err: err}
	}
	return nil
}
