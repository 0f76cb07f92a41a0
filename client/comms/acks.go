package comms

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go_udp_copy/constants"
	"go_udp_copy/networking"
)

// readRetryDelay paces the read loop while the socket keeps failing
const readRetryDelay = 100 * time.Millisecond

// AckSource hands out acknowledgments for individual chunks
type AckSource interface {
	// Register returns channel receiving ACKs for exactly this chunk.
	Register(transferID int64, chunkIndex int) <-chan networking.Ack
	Unregister(transferID int64, chunkIndex int)
}

type ackKey struct {
	transferID int64
	index      int
}

// AckRouter owns the read side of the sender socket and dispatches ACKs to waiting chunks
type AckRouter struct {
	conn networking.Transport
	log  *log.Logger

	mu      sync.Mutex
	waiting map[ackKey]chan networking.Ack

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewAckRouter prepares router for conn. Call Start to begin reading.
func NewAckRouter(conn networking.Transport, logger *log.Logger) *AckRouter {
	return &AckRouter{
		conn:    conn,
		log:     logger,
		waiting: make(map[ackKey]chan networking.Ack),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *AckRouter) Register(transferID int64, chunkIndex int) <-chan networking.Ack {
	ch := make(chan networking.Ack, 1)

	r.mu.Lock()
	r.waiting[ackKey{transferID, chunkIndex}] = ch
	r.mu.Unlock()

	return ch
}

func (r *AckRouter) Unregister(transferID int64, chunkIndex int) {
	r.mu.Lock()
	delete(r.waiting, ackKey{transferID, chunkIndex})
	r.mu.Unlock()
}

// Start launches read loop
func (r *AckRouter) Start() {
	go r.readLoop()
}

func (r *AckRouter) readLoop() {
	defer close(r.done)
	buf := make([]byte, constants.MAX_UDP_PAYLOAD)

	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.quit:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Println("Read failed:", err)
			select {
			case <-r.quit:
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		ack, err := networking.DecodeAck(buf[:n])
		if err != nil {
			r.log.Printf("Ignoring datagram from %s: %v\n", from, err)
			continue
		}
		r.dispatch(ack)
	}
}

// dispatch delivers ack without blocking. Nobody waiting means it is late or stray.
func (r *AckRouter) dispatch(ack networking.Ack) {
	r.mu.Lock()
	ch, ok := r.waiting[ackKey{ack.TransferID, ack.ChunkIndex}]
	r.mu.Unlock()

	if !ok {
		r.log.Printf("No chunk waiting for ACK of transfer %d chunk %d\n", ack.TransferID, ack.ChunkIndex)
		return
	}
	select {
	case ch <- ack:
	default:
		// Already holding an ACK for this chunk.
	}
}

// Close stops read loop. The caller keeps ownership of conn.
func (r *AckRouter) Close() {
	r.stopOnce.Do(func() {
		close(r.quit)
		r.conn.SetReadDeadline(time.Now())
	})
	<-r.done
}
