package domain

import "time"

// SyncPhase names the orchestration state a synchronization run reached.
type SyncPhase string

const (
	PhaseIdle            SyncPhase = "idle"
	PhaseCoverageChecked SyncPhase = "coverage_checked"
	PhasePaginating      SyncPhase = "paginating"
	PhaseMerged          SyncPhase = "merged"
	PhaseDone            SyncPhase = "done"
	PhaseFailed          SyncPhase = "failed"
)

// WalkStop records why a listing walk ended.
type WalkStop string

const (
	WalkExhausted   WalkStop = "exhausted"
	WalkPassedBegin WalkStop = "passed_begin"
	WalkCapped      WalkStop = "capped"
)

// Complete reports whether the walk saw everything back to the window begin.
// A capped walk did not.
func (w WalkStop) Complete() bool {
	return w == WalkExhausted || w == WalkPassedBegin
}

// SyncReport holds statistics about one source's synchronization run.
type SyncReport struct {
	Source         string
	SourceID       string
	Phase          SyncPhase
	Requested      Interval
	Remaining      *Interval
	CoverageBefore Interval
	CoverageAfter  Interval
	Discovered     int
	Added          int
	Stop           WalkStop
	Err            error
	Table          *ItemTable
	Duration       time.Duration
}

// NothingToDo reports whether the requested window was already covered.
func (r *SyncReport) NothingToDo() bool {
	return r.Remaining == nil && r.Phase == PhaseDone
}

// Meta is the descriptive data written alongside materialized content.
type Meta struct {
	Date    string
	Link    string
	Account string
	Digest  string
}

// RetrievalTask is one unit of content materialization.
type RetrievalTask struct {
	ItemID       string
	Source       string
	ContentURL   string
	Title        string
	Destination  string
	MaxRetries   int
	Timeout      time.Duration
	MinSizeBytes int64
	Meta         Meta
}

type RetrievalStatus string

const (
	StatusSucceeded RetrievalStatus = "succeeded"
	StatusExisting  RetrievalStatus = "existing"
	StatusFailed    RetrievalStatus = "failed"
	StatusSkipped   RetrievalStatus = "skipped"
)

// RetrievalResult is the outcome of a single task.
type RetrievalResult struct {
	Task     RetrievalTask
	Status   RetrievalStatus
	Attempts int
	Bytes    int64
	Err      error
}

// RetrievalSummary aggregates a materialization batch. Existing destinations
// count as succeeded; Written holds only the files created by this batch.
type RetrievalSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Fetched   int
	Published int
	Failures  []RetrievalResult
	Written   []RetrievalResult
	Duration  time.Duration
}

// RunReport covers one full pass: synchronize every source, then materialize.
type RunReport struct {
	Requested Interval
	Syncs     []*SyncReport
	Retrieval RetrievalSummary
	Duration  time.Duration
}

// Failed returns the sources whose synchronization failed.
func (r *RunReport) Failed() []*SyncReport {
	var failed []*SyncReport
	for _, s := range r.Syncs {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}
