package server

import (
	"log"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"go_udp_copy/constants"
	"go_udp_copy/fileio"
	"go_udp_copy/networking"
	"go_udp_copy/server/worker"
)

// Config tunes the receive path
type Config struct {
	Reliable        bool             // ACK every decoded chunk back to its source
	Codec           networking.Codec // Wire variant expected on the socket
	Workers         int              // Goroutines decoding and inserting datagrams
	Queue           int              // Datagrams buffered between socket and workers
	SinkWorkers     int              // Goroutines delivering completed payloads
	SinkQueue       int              // Completed payloads buffered before workers block
	Decompress      bool             // Payloads were LZ4 compressed by the sender
	TTL             time.Duration    // Idle partial transfers are evicted after this
	JanitorInterval time.Duration    // How often the table is swept for idle transfers
	CompletedMemory int              // Completed ids remembered to ignore late duplicates
	MaxChunks       int              // Largest totalChunks accepted
}

// DefaultConfig returns reliable file variant configuration
func DefaultConfig() Config {
	return Config{
		Reliable:        true,
		Codec:           networking.NewFileCodec(constants.DEFAULT_DATAGRAM),
		Workers:         constants.DEFAULT_NUM_WORKERS,
		Queue:           constants.DEFAULT_QUEUE,
		SinkWorkers:     constants.SINK_WORKERS,
		SinkQueue:       constants.SINK_QUEUE,
		TTL:             constants.REASSEMBLY_TTL * time.Second,
		JanitorInterval: constants.JANITOR_INTERVAL * time.Second,
		CompletedMemory: constants.COMPLETED_MEMORY,
		MaxChunks:       constants.MAX_CHUNKS,
	}
}

// Validate checks configuration is usable
func (c *Config) Validate() error {
	if c.Codec == nil {
		return errors.New("codec is required")
	}
	if _, frames := c.Codec.(*networking.FrameCodec); frames && c.Reliable {
		return errors.New("frame streams are never acknowledged")
	}
	if c.Workers < 1 || c.SinkWorkers < 1 {
		return errors.Errorf("need at least one worker, got %d datagram and %d sink workers", c.Workers, c.SinkWorkers)
	}
	if c.Queue < 0 || c.SinkQueue < 0 {
		return errors.New("queue lengths cannot be negative")
	}
	if c.TTL > 0 && c.JanitorInterval <= 0 {
		return errors.New("janitor interval must be positive when TTL is set")
	}
	return nil
}

// Stats is a snapshot of receiver counters
type Stats struct {
	Datagrams  uint64
	Malformed  uint64
	Duplicates uint64
	Rejected   uint64
	Completed  uint64
	Expired    uint64

	// First chunk to assembly, over completed transfers
	AssemblyMin time.Duration
	AssemblyMax time.Duration
	AssemblyAvg time.Duration
}

type counters struct {
	datagrams  atomic.Uint64
	malformed  atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
	completed  atomic.Uint64
	expired    atomic.Uint64

	assemblyMin   atomic.Int64 // ns, MaxInt64 until first completion
	assemblyMax   atomic.Int64
	assemblyTotal atomic.Int64
}

// assembled records one completion and returns the completed count
func (c *counters) assembled(took time.Duration) uint64 {
	ns := int64(took)
	for {
		cur := c.assemblyMin.Load()
		if ns >= cur || c.assemblyMin.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := c.assemblyMax.Load()
		if ns <= cur || c.assemblyMax.CompareAndSwap(cur, ns) {
			break
		}
	}
	c.assemblyTotal.Add(ns)
	return c.completed.Add(1)
}

type datagram struct {
	buf  *[]byte
	n    int
	from net.Addr
}

// Receiver reads chunk datagrams from one socket and hands completed transfers to a sink
type Receiver struct {
	cfg   Config
	conn  networking.Transport
	table *worker.Table
	sinks *worker.SinkPool
	log   *log.Logger

	datagrams chan *datagram
	buffers   sync.Pool
	workers   sync.WaitGroup

	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	stats counters
}

// NewReceiver prepares receiver on conn. The caller keeps ownership of conn.
func NewReceiver(conn networking.Transport, cfg Config, sink fileio.Sink, logger *log.Logger) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "receiver config")
	}

	r := &Receiver{
		cfg:  cfg,
		conn: conn,
		table: worker.NewTable(worker.TableConfig{
			MaxChunks:       cfg.MaxChunks,
			TTL:             cfg.TTL,
			CompletedMemory: cfg.CompletedMemory,
		}),
		sinks:     worker.NewSinkPool(sink, cfg.SinkWorkers, cfg.SinkQueue, cfg.Decompress, logger),
		log:       logger,
		datagrams: make(chan *datagram, cfg.Queue),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.stats.assemblyMin.Store(math.MaxInt64)
	r.buffers.New = func() any {
		buf := make([]byte, constants.MAX_UDP_PAYLOAD)
		return &buf
	}

	return r, nil
}

// Serve runs receive loop until Close is called
func (r *Receiver) Serve() error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("receiver already serving")
	}
	defer close(r.done)

	r.sinks.Start()
	for i := 0; i < r.cfg.Workers; i++ {
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			for d := range r.datagrams {
				r.handleDatagram(d)
			}
		}()
	}

	janitorDone := make(chan struct{})
	go r.janitor(janitorDone)

	r.log.Println("Receiving on", r.conn.LocalAddr().String())

	err := r.readLoop()
	r.stop()

	// Drain everything already read before returning.
	close(r.datagrams)
	r.workers.Wait()
	<-janitorDone
	r.sinks.Stop()

	return err
}

func (r *Receiver) readLoop() error {
	for {
		buf := r.buffers.Get().(*[]byte)
		n, from, err := r.conn.ReadFrom(*buf)
		if err != nil {
			r.buffers.Put(buf)
			select {
			case <-r.quit:
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return &networking.TransportError{Op: "read", Err: err}
		}

		r.datagrams <- &datagram{buf: buf, n: n, from: from}
	}
}

// janitor evicts idle partial transfers until quit
func (r *Receiver) janitor(done chan<- struct{}) {
	defer close(done)
	if r.cfg.TTL <= 0 {
		<-r.quit
		return
	}

	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case now := <-ticker.C:
			for _, id := range r.table.Expire(now) {
				r.stats.expired.Add(1)
				r.log.Printf("Transfer %d expired after %v without chunks\n", id, r.cfg.TTL)
			}
		}
	}
}

// Close stops receive loop and waits for in-flight payloads to be delivered
func (r *Receiver) Close() {
	r.stop()
	if r.started.Load() {
		<-r.done
	}
}

func (r *Receiver) stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		// Unblock pending ReadFrom.
		r.conn.SetReadDeadline(time.Now())
	})
}

// Stats returns current counters
func (r *Receiver) Stats() Stats {
	stats := Stats{
		Datagrams:  r.stats.datagrams.Load(),
		Malformed:  r.stats.malformed.Load(),
		Duplicates: r.stats.duplicates.Load(),
		Rejected:   r.stats.rejected.Load(),
		Completed:  r.stats.completed.Load(),
		Expired:    r.stats.expired.Load(),
	}
	if stats.Completed > 0 {
		stats.AssemblyMin = time.Duration(r.stats.assemblyMin.Load())
		stats.AssemblyMax = time.Duration(r.stats.assemblyMax.Load())
		stats.AssemblyAvg = time.Duration(r.stats.assemblyTotal.Load() / int64(stats.Completed))
	}
	return stats
}

// InProgress returns number of partial transfers held
func (r *Receiver) InProgress() int {
	return r.table.Len()
}
