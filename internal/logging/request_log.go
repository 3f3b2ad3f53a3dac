package logging

import (
	"sync"
	"time"
)

// RequestLogEntry represents a single request log entry
type RequestLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Model      string    `json:"model,omitempty"`
	Credential string    `json:"credential,omitempty"`
	Attempts   int       `json:"attempts"`
	StatusCode int       `json:"status_code"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// RequestLogStore is a thread-safe circular buffer of recent requests. It is
// held in memory only.
type RequestLogStore struct {
	mu       sync.RWMutex
	logs     []RequestLogEntry
	capacity int
	index    int
	size     int
}

// NewRequestLogStore creates a new request log store with the given capacity
func NewRequestLogStore(capacity int) *RequestLogStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RequestLogStore{
		logs:     make([]RequestLogEntry, capacity),
		capacity: capacity,
	}
}

// Add appends a new log entry to the store
func (s *RequestLogStore) Add(entry RequestLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[s.index] = entry
	s.index = (s.index + 1) % s.capacity
	if s.size < s.capacity {
		s.size++
	}
}

// QueryOptions defines filtering options for log queries
type QueryOptions struct {
	Model      string
	FailedOnly bool
	Limit      int
}

// Query retrieves logs matching the given options, newest first.
func (s *RequestLogStore) Query(opts QueryOptions) []RequestLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return []RequestLogEntry{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	result := make([]RequestLogEntry, 0, min(limit, s.size))
	for i := 0; i < s.size && len(result) < limit; i++ {
		idx := (s.index - 1 - i + s.capacity) % s.capacity
		entry := s.logs[idx]

		if opts.Model != "" && entry.Model != opts.Model {
			continue
		}
		if opts.FailedOnly && entry.StatusCode < 400 {
			continue
		}
		result = append(result, entry)
	}

	return result
}

// Len returns the number of stored entries.
func (s *RequestLogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Clear removes all logs from the store
func (s *RequestLogStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = make([]RequestLogEntry, s.capacity)
	s.index = 0
	s.size = 0
}
