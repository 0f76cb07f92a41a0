package worker

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go_udp_copy/fileio"
)

// ErrTerminated is returned by Submit once Wait has been called
var ErrTerminated = errors.New("scheduler terminated")

// Transferer sends one payload to the receiver
type Transferer interface {
	Send(transferID int64, payload []byte, name string) error
}

// Job is one payload to transfer. Source is read by the worker when Payload is nil.
type Job struct {
	TransferID int64
	Name       string
	Source     string
	Payload    []byte
}

// Failure is a job that could not be delivered
type Failure struct {
	Job *Job
	Err error
}

// Report sums up submitted jobs
type Report struct {
	Sent       []*Job
	Failed     []Failure
	Unfinished []*Job // Queued or in flight when Wait gave up, in submission order
	Bytes      int64
	Took       time.Duration
}

// Scheduler runs jobs on a fixed set of workers
type Scheduler struct {
	sender   Transferer
	workers  int
	compress bool
	log      *log.Logger

	queue chan *Job
	wg    sync.WaitGroup
	begin time.Time

	mu     sync.RWMutex // Held for reading while submitting so Wait never closes queue under a sender
	closed bool

	reportMu sync.Mutex
	report   Report
	pending  map[*Job]int // Submission sequence of jobs not finished yet
	seq      int
}

// NewScheduler prepares scheduler. Call Start before submitting.
func NewScheduler(sender Transferer, workers, queue int, compress bool, logger *log.Logger) *Scheduler {
	return &Scheduler{
		sender:   sender,
		workers:  max(workers, 1),
		compress: compress,
		log:      logger,
		queue:    make(chan *Job, max(queue, 0)),
		pending:  make(map[*Job]int),
	}
}

// Start launches workers
func (s *Scheduler) Start() {
	s.begin = time.Now()
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for job := range s.queue {
				s.run(job)
			}
		}()
	}
}

// Submit queues job. Blocks while queue is full.
func (s *Scheduler) Submit(job *Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrTerminated
	}

	s.reportMu.Lock()
	s.pending[job] = s.seq
	s.seq++
	s.reportMu.Unlock()

	s.queue <- job
	return nil
}

func (s *Scheduler) run(job *Job) {
	payload := job.Payload
	if payload == nil && job.Source != "" {
		var err error
		if payload, err = fileio.ReadPayload(job.Source); err != nil {
			s.fail(job, err)
			return
		}
	}

	size := len(payload)
	if s.compress {
		compressed, err := fileio.CompressPayload(payload)
		if err != nil {
			s.fail(job, err)
			return
		}
		payload = compressed
	}

	begin := time.Now()
	if err := s.sender.Send(job.TransferID, payload, job.Name); err != nil {
		s.fail(job, err)
		return
	}
	s.log.Printf("Sent %s (%d bytes) as transfer %d in %v\n", job.Name, size, job.TransferID, time.Since(begin))

	s.reportMu.Lock()
	s.report.Sent = append(s.report.Sent, job)
	s.report.Bytes += int64(size)
	delete(s.pending, job)
	s.reportMu.Unlock()
}

func (s *Scheduler) fail(job *Job, err error) {
	s.log.Printf("Transfer %d (%s) failed: %v\n", job.TransferID, job.Name, err)

	s.reportMu.Lock()
	s.report.Failed = append(s.report.Failed, Failure{Job: job, Err: err})
	delete(s.pending, job)
	s.reportMu.Unlock()
}

// Wait closes submission and waits for workers to finish every queued job.
// When ctx ends first the jobs still queued or in flight are listed as unfinished.
func (s *Scheduler) Wait(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	report := &Report{
		Sent:   append([]*Job(nil), s.report.Sent...),
		Failed: append([]Failure(nil), s.report.Failed...),
		Bytes:  s.report.Bytes,
		Took:   time.Since(s.begin),
	}
	for job := range s.pending {
		report.Unfinished = append(report.Unfinished, job)
	}
	sort.Slice(report.Unfinished, func(i, j int) bool {
		return s.pending[report.Unfinished[i]] < s.pending[report.Unfinished[j]]
	})
	return report, err
}
