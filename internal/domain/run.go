package domain

// RunState tracks the pipeline state machine through one run.
type RunState int

const (
	StateStart RunState = iota
	StateListed
	StateFiltered
	StateEnriched
	StateRanked
	StateRendered
	StateSent
	StateCommitted
	StateAborted
)

var stateNames = map[RunState]string{
	StateStart:     "start",
	StateListed:    "listed",
	StateFiltered:  "filtered",
	StateEnriched:  "enriched",
	StateRanked:    "ranked",
	StateRendered:  "rendered",
	StateSent:      "sent",
	StateCommitted: "committed",
	StateAborted:   "aborted",
}

func (s RunState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// CommitError records a per-item failure after the digest was already
// delivered. These never raise the run's overall status to failure.
type CommitError struct {
	MessageID string
	Op        string
	Err       error
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	RunID        string
	State        RunState
	Listed       int
	Matched      int
	New          int
	Delivered    int
	CommitErrors []CommitError
}
