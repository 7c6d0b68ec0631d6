package logging

import (
	"bufio"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the default capacity of the diagnostics ring buffer.
const DefaultBufferSize = 500

// Entry is a single diagnostic line retained for the UI status surface.
// Source distinguishes shell log records from captured engine output.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// RingBuffer is a thread-safe circular buffer of recent diagnostics. It
// implements logrus.Hook so shell logs land in it automatically, and exposes
// LineWriter so the process supervisor can stream engine stdout/stderr into
// the same buffer.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// NewRingBuffer creates a ring buffer with the given capacity, falling back
// to DefaultBufferSize for non-positive values.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Levels implements logrus.Hook. All levels are captured so the UI sees the
// same stream operators see in the log files.
func (rb *RingBuffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements logrus.Hook.
func (rb *RingBuffer) Fire(entry *log.Entry) error {
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	rb.Append(Entry{
		Timestamp: entry.Time,
		Level:     level,
		Source:    "shell",
		Message:   entry.Message,
	})
	return nil
}

// Append stores one entry, evicting the oldest when full.
func (rb *RingBuffer) Append(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
}

// Snapshot returns the retained entries in chronological order.
func (rb *RingBuffer) Snapshot() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]Entry, 0, rb.count)
	start := rb.head - rb.count
	if start < 0 {
		start += rb.capacity
	}
	for i := 0; i < rb.count; i++ {
		out = append(out, rb.entries[(start+i)%rb.capacity])
	}
	return out
}

// Len returns the number of retained entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// LineWriter returns an io.WriteCloser that splits writes into lines and
// appends each as an entry from the given source at the given level. The
// caller should Close it once the producing stream is exhausted.
func (rb *RingBuffer) LineWriter(source, level string) io.WriteCloser {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			rb.Append(Entry{
				Timestamp: time.Now(),
				Level:     level,
				Source:    source,
				Message:   scanner.Text(),
			})
		}
		_ = pr.CloseWithError(scanner.Err())
	}()
	return pw
}
