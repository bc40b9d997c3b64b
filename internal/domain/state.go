package domain

import "time"

// DedupRecord marks one processed message in the persisted snapshot.
type DedupRecord struct {
	ProcessedAt time.Time `json:"processed_at"`
	RunID       string    `json:"run_id"`
}

// Snapshot is the persisted dedup state: every message identifier the
// pipeline has committed, across all runs. It is loaded once at run start
// and flushed once at commit.
type Snapshot struct {
	Processed map[string]DedupRecord `json:"processed_messages"`
}

// NewSnapshot returns an empty snapshot (first run).
func NewSnapshot() *Snapshot {
	return &Snapshot{Processed: map[string]DedupRecord{}}
}

// Contains reports whether the message identifier was already processed.
func (s *Snapshot) Contains(id string) bool {
	_, ok := s.Processed[id]
	return ok
}

// Record marks a message identifier as processed. Recording the same
// identifier again keeps the original record.
func (s *Snapshot) Record(id, runID string, at time.Time) {
	if s.Processed == nil {
		s.Processed = map[string]DedupRecord{}
	}
	if _, ok := s.Processed[id]; ok {
		return
	}
	s.Processed[id] = DedupRecord{ProcessedAt: at, RunID: runID}
}

// Len returns the number of recorded identifiers.
func (s *Snapshot) Len() int {
	return len(s.Processed)
}
