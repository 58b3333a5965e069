package feature

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Record is one entry kept by History.
type Record struct {
	Node    string    `json:"node"`
	Feature string    `json:"feature"`
	Raw     []byte    `json:"raw"`
	Sample  Sample    `json:"sample"`
	At      time.Time `json:"at"`
}

// MaxHistorySize bounds History capacity to guard against misconfiguration.
const MaxHistorySize uint32 = 1024 * 1024

// History is a Logger that keeps the most recent updates of every feature it
// is attached to. When full the oldest record is overwritten.
//
// All methods are safe for concurrent use.
type History struct {
	buffer      mpmc.RichOverlappedRingBuffer[Record]
	logged      atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewHistory creates a history holding up to size records.
func NewHistory(size uint32) (*History, error) {
	if size == 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if size > MaxHistorySize {
		return nil, fmt.Errorf("history size %d exceeds maximum %d", size, MaxHistorySize)
	}
	return &History{buffer: mpmc.NewOverlappedRingBuffer[Record](size)}, nil
}

// LogUpdate implements Logger.
func (h *History) LogUpdate(f *Feature, raw []byte, s Sample) {
	rec := Record{
		Node:    f.Owner(),
		Feature: f.Name(),
		Raw:     append([]byte(nil), raw...),
		Sample:  s,
		At:      time.Now(),
	}
	overwrites, err := h.buffer.EnqueueM(rec)
	if err != nil {
		h.errors.Add(1)
		return
	}
	h.overwritten.Add(int64(overwrites))
	h.logged.Add(1)
}

// Drain removes and returns every buffered record, oldest first.
func (h *History) Drain() ([]Record, error) {
	var out []Record
	for !h.buffer.IsEmpty() {
		rec, err := h.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("history dequeue: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Logged is the number of records accepted so far.
func (h *History) Logged() int64 { return h.logged.Load() }

// Overwritten is the number of records lost to overflow.
func (h *History) Overwritten() int64 { return h.overwritten.Load() }

// Errors counts enqueue failures.
func (h *History) Errors() int64 { return h.errors.Load() }
