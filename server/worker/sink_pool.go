package worker

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"go_udp_copy/fileio"
)

// ErrTerminated is returned by Submit once the pool has been stopped
var ErrTerminated = errors.New("sink pool terminated")

// SinkPool delivers completed payloads to a sink from a fixed number of workers
type SinkPool struct {
	sink       fileio.Sink
	workers    int
	decompress bool
	log        *log.Logger

	queue chan *fileio.Payload
	wg    sync.WaitGroup

	mu      sync.RWMutex // Held for reading while submitting so Stop never closes queue under a sender
	stopped bool
}

// NewSinkPool prepares pool. Call Start before submitting.
func NewSinkPool(sink fileio.Sink, workers, queue int, decompress bool, logger *log.Logger) *SinkPool {
	return &SinkPool{
		sink:       sink,
		workers:    max(workers, 1),
		decompress: decompress,
		log:        logger,
		queue:      make(chan *fileio.Payload, max(queue, 0)),
	}
}

// Start launches workers
func (p *SinkPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for payload := range p.queue {
				p.deliver(payload)
			}
		}()
	}
}

func (p *SinkPool) deliver(payload *fileio.Payload) {
	if p.decompress {
		raw, err := fileio.DecompressPayload(payload.Data)
		if err != nil {
			p.log.Printf("Dropping transfer %d (%s): %v\n", payload.TransferID, payload.Name, err)
			return
		}
		payload.Data = raw
	}
	if err := p.sink.Deliver(payload); err != nil {
		p.log.Printf("Failed to deliver transfer %d (%s): %v\n", payload.TransferID, payload.Name, err)
	}
}

// Submit queues payload for delivery. Blocks while queue is full.
func (p *SinkPool) Submit(payload *fileio.Payload) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrTerminated
	}
	p.queue <- payload
	return nil
}

// Stop waits for queued payloads to be delivered
func (p *SinkPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
