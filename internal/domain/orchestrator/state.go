package orchestrator

// State is the orchestrator's lifecycle state. A separate pause flag
// overlays any state and is reported independently via Paused().
type State string

const (
	StateReady    State = "ready"
	StateCrawling State = "crawling"
	StateAuditing State = "auditing"
	StateCleanup  State = "cleanup"
	StateDone     State = "done"

	// StatePaused is never stored; Status reports it whenever the pause
	// set is non-empty, overlaying whatever the underlying state is.
	StatePaused State = "paused"
)

// pauseSet tracks pause holds keyed by caller-supplied identity. The
// orchestrator is paused iff the set is non-empty; two callers pausing
// independently both have to resume before scanning continues.
type pauseSet map[string]struct{}
