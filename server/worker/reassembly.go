package worker

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"go_udp_copy/networking"
)

// InsertResult tells what OnChunk did with a chunk
type InsertResult int

const (
	Inserted InsertResult = iota
	DuplicateIgnored
	IndexOutOfRange
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case DuplicateIgnored:
		return "duplicate"
	case IndexOutOfRange:
		return "out of range"
	}
	return "unknown"
}

var (
	ErrUnknownTransfer = errors.New("unknown transfer")
	ErrIncomplete      = errors.New("transfer incomplete")
)

// TableConfig bounds the memory a Table may hold
type TableConfig struct {
	MaxChunks       int           // Largest totalChunks accepted for one transfer
	TTL             time.Duration // Partial transfers idle for longer are evicted by Expire
	CompletedMemory int           // Recently completed ids remembered to swallow late duplicates
}

// reassembly holds the chunks of one transfer. Guarded by its own mutex.
type reassembly struct {
	mu        sync.Mutex
	slots     [][]byte
	have      []bool
	received  int
	name      string
	createdAt time.Time
	touchedAt time.Time
	closed    bool // Assembled or expired, no longer in the table
	expired   bool
}

// Assembled is a complete transfer taken out of the table
type Assembled struct {
	Data []byte
	Name string
	Took time.Duration // First chunk arrival to assembly
}

// Table collects chunks per transfer id until every slot is filled
type Table struct {
	cfg TableConfig

	mu        sync.Mutex // Guards transfers only, never held while copying chunk data
	transfers map[int64]*reassembly
	completed *lru.Cache

	now func() time.Time
}

// NewTable creates empty reassembly table
func NewTable(cfg TableConfig) *Table {
	completed, err := lru.New(max(cfg.CompletedMemory, 1))
	if err != nil {
		panic(err)
	}
	return &Table{
		cfg:       cfg,
		transfers: make(map[int64]*reassembly),
		completed: completed,
		now:       time.Now,
	}
}

// OnChunk stores chunk in its transfer's slot
func (t *Table) OnChunk(chunk *networking.Chunk) InsertResult {
	for {
		r, result := t.buffer(chunk)
		if r == nil {
			return result
		}
		if result, stale := t.insert(r, chunk); !stale {
			return result
		}
		// Expired between lookup and insert, start over with a fresh buffer.
	}
}

// buffer returns reassembly for chunk's transfer, allocating it for the first chunk.
// A nil reassembly comes with the result to report.
func (t *Table) buffer(chunk *networking.Chunk) (*reassembly, InsertResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r := t.transfers[chunk.TransferID]; r != nil {
		return r, Inserted
	}
	// Assemble records completed ids under the same lock.
	if t.completed.Contains(chunk.TransferID) {
		// Retransmission of a chunk whose ACK got lost after we finished.
		return nil, DuplicateIgnored
	}
	if !t.inRange(chunk.Index, chunk.TotalChunks) {
		return nil, IndexOutOfRange
	}

	now := t.now()
	r := &reassembly{
		slots:     make([][]byte, chunk.TotalChunks),
		have:      make([]bool, chunk.TotalChunks),
		name:      chunk.Name,
		createdAt: now,
		touchedAt: now,
	}
	t.transfers[chunk.TransferID] = r
	return r, Inserted
}

// insert fills chunk's slot. stale reports r was expired and chunk was not stored.
func (t *Table) insert(r *reassembly, chunk *networking.Chunk) (result InsertResult, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expired {
		return IndexOutOfRange, true
	}
	if r.closed {
		return DuplicateIgnored, false
	}
	// First seen total wins.
	if chunk.Index < 0 || chunk.Index >= len(r.slots) {
		return IndexOutOfRange, false
	}
	if r.have[chunk.Index] {
		return DuplicateIgnored, false
	}
	r.slots[chunk.Index] = chunk.Payload
	r.have[chunk.Index] = true
	r.received++
	r.touchedAt = t.now()

	return Inserted, false
}

func (t *Table) inRange(index, total int) bool {
	if total < 1 || (t.cfg.MaxChunks > 0 && total > t.cfg.MaxChunks) {
		return false
	}
	return index >= 0 && index < total
}

// IsComplete returns true if every slot of transfer has been filled
func (t *Table) IsComplete(transferID int64) bool {
	t.mu.Lock()
	r := t.transfers[transferID]
	t.mu.Unlock()
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.received == len(r.slots)
}

// Received returns number of distinct chunks held for transfer
func (t *Table) Received(transferID int64) (int, bool) {
	t.mu.Lock()
	r := t.transfers[transferID]
	t.mu.Unlock()
	if r == nil {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, true
}

// Assemble concatenates a complete transfer in index order and evicts it.
// Only one caller can ever succeed for a transfer id.
func (t *Table) Assemble(transferID int64) ([]byte, string, error) {
	assembled, err := t.Collect(transferID)
	if err != nil {
		return nil, "", err
	}
	return assembled.Data, assembled.Name, nil
}

// Collect is Assemble that also reports how long the transfer took to arrive
func (t *Table) Collect(transferID int64) (*Assembled, error) {
	t.mu.Lock()
	r := t.transfers[transferID]
	if r == nil {
		t.mu.Unlock()
		return nil, errors.Wrapf(ErrUnknownTransfer, "transfer %d", transferID)
	}

	r.mu.Lock()
	if r.received != len(r.slots) {
		received, total := r.received, len(r.slots)
		r.mu.Unlock()
		t.mu.Unlock()
		return nil, errors.Wrapf(ErrIncomplete, "transfer %d has %d/%d chunks", transferID, received, total)
	}
	r.closed = true
	delete(t.transfers, transferID)
	t.completed.Add(transferID, nil)
	r.mu.Unlock()
	t.mu.Unlock()

	// Closed reassembly is no longer mutated so no lock is needed to read it.
	size := 0
	for _, slot := range r.slots {
		size += len(slot)
	}
	data := make([]byte, 0, size)
	for _, slot := range r.slots {
		data = append(data, slot...)
	}

	return &Assembled{Data: data, Name: r.name, Took: t.now().Sub(r.createdAt)}, nil
}

// Expire evicts partial transfers that received nothing for longer than TTL and returns their ids
func (t *Table) Expire(now time.Time) []int64 {
	if t.cfg.TTL <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []int64
	for id, r := range t.transfers {
		r.mu.Lock()
		if now.Sub(r.touchedAt) > t.cfg.TTL {
			r.closed = true
			r.expired = true
			delete(t.transfers, id)
			expired = append(expired, id)
		}
		r.mu.Unlock()
	}
	return expired
}

// Len returns number of transfers in progress
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.transfers)
}
