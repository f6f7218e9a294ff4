// Package metrics provides observability hooks for the relay pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional and cost nothing when disabled.
package metrics

// Outcome enumerates ingestion result categories for counters.
type Outcome string

const (
	OutcomeInserted     Outcome = "inserted"
	OutcomeUpdated      Outcome = "updated"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeStoreFull    Outcome = "store_full"
	OutcomeUnrecognized Outcome = "unrecognized"
	OutcomeRateLimited  Outcome = "rate_limited"
)

// Recorder defines the observability hooks the relay calls at each pipeline
// stage. Implementations must be safe for concurrent use.
type Recorder interface {
	IncObservation(outcome Outcome)
	SetStoreLive(n int)
	ObserveFrameSize(bytes int)
	IncFrameResult(result string) // result: sent|busy|failed
	AddRecordsRelayed(n int)
	AddSweepReclaimed(n int)
	IncHealthReset()
	SetActiveBroadcasts(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) IncObservation(Outcome)   {}
func (NoopRecorder) SetStoreLive(int)         {}
func (NoopRecorder) ObserveFrameSize(int)     {}
func (NoopRecorder) IncFrameResult(string)    {}
func (NoopRecorder) AddRecordsRelayed(int)    {}
func (NoopRecorder) AddSweepReclaimed(int)    {}
func (NoopRecorder) IncHealthReset()          {}
func (NoopRecorder) SetActiveBroadcasts(int)  {}
