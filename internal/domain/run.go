package domain

import "time"

// RunState is a step of the ranking run state machine.
type RunState string

const (
	RunFetching     RunState = "FETCHING"
	RunValidating   RunState = "VALIDATING"
	RunRanking      RunState = "RANKING"
	RunSnapshotting RunState = "SNAPSHOTTING"
	RunDiffing      RunState = "DIFFING"
	RunUpdating     RunState = "UPDATING"
	RunSweeping     RunState = "SWEEPING"
	RunDone         RunState = "DONE"
	RunFailed       RunState = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunFailed
}

// SweepResult counts the rows removed by one retention pass.
type SweepResult struct {
	Snapshots    int64 `json:"snapshots"`
	StaleMarkets int64 `json:"staleMarkets"`
	Events       int64 `json:"events"`
	ArchivedRows int64 `json:"archivedRows"`
}

// RunResult summarises a single ranking run.
type RunResult struct {
	RunID            string            `json:"runId"`
	State            RunState          `json:"state"`
	FailedIn         RunState          `json:"failedIn,omitempty"`
	StartedAt        time.Time         `json:"startedAt"`
	FinishedAt       time.Time         `json:"finishedAt"`
	Fetched          int               `json:"fetched"`
	Accepted         int               `json:"accepted"`
	Rejected         map[string]int    `json:"rejected,omitempty"`
	TopK             []CanonicalMarket `json:"topK,omitempty"`
	SnapshotsWritten int               `json:"snapshotsWritten"`
	Events           []TrendingEvent   `json:"events,omitempty"`
	EventsWritten    int               `json:"eventsWritten"`
	Sweep            SweepResult       `json:"sweep"`
	SweepError       string            `json:"sweepError,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// Duration is the wall time the run took.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
