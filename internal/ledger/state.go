package ledger

import "fmt"

// State is a record's position in the download -> wayback -> archive pipeline.
type State string

const (
	StateFetched                State = "FETCHED"
	StateDownloadSuccess        State = "DOWNLOAD_SUCCESS"
	StateDownloadFailed         State = "DOWNLOAD_FAILED"
	StateWaybackUploaded        State = "WAYBACK_UPLOADED"
	StateWaybackUploadFailed    State = "WAYBACK_UPLOAD_FAILED"
	StateArchivedWithWayback    State = "ARCHIVE_UPLOADED_WITH_WAYBACK_URL"
	StateArchivedWithoutWayback State = "ARCHIVE_UPLOADED_WITHOUT_WAYBACK_URL"
	StateArchivedWithoutDoc     State = "ARCHIVE_UPLOADED_WITHOUT_DOCUMENT"
)

// Stage names one pipeline step.
type Stage string

const (
	StageDownload Stage = "download"
	StageWayback  Stage = "wayback"
	StageArchive  Stage = "archive"
)

// Stages lists the pipeline steps in execution order.
var Stages = []Stage{StageDownload, StageWayback, StageArchive}

// AllStates enumerates every legal state value.
var AllStates = []State{
	StateFetched,
	StateDownloadSuccess,
	StateDownloadFailed,
	StateWaybackUploaded,
	StateWaybackUploadFailed,
	StateArchivedWithWayback,
	StateArchivedWithoutWayback,
	StateArchivedWithoutDoc,
}

// transitions is the full legal transition table. A state never listed as a
// target of itself still allows no-op updates; only actual state changes are
// validated against this table.
var transitions = map[State][]State{
	StateFetched:                {StateDownloadSuccess, StateDownloadFailed},
	StateDownloadSuccess:        {StateWaybackUploaded, StateWaybackUploadFailed},
	StateDownloadFailed:         {StateArchivedWithoutDoc},
	StateWaybackUploaded:        {StateArchivedWithWayback},
	StateWaybackUploadFailed:    {StateArchivedWithoutWayback},
	StateArchivedWithWayback:    {},
	StateArchivedWithoutWayback: {},
	StateArchivedWithoutDoc: {
		StateDownloadSuccess,
		StateDownloadFailed,
		StateArchivedWithWayback,
		StateArchivedWithoutWayback,
	},
}

// KnownState reports whether s is one of the enumerated states.
func KnownState(s State) bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further pipeline work applies to s.
// ARCHIVE_UPLOADED_WITHOUT_DOCUMENT is deliberately non-terminal: it stays
// eligible for download recovery.
func (s State) Terminal() bool {
	return s == StateArchivedWithWayback || s == StateArchivedWithoutWayback
}

// CanTransition reports whether from -> to is in the transition table.
// A no-op (from == to) is always permitted.
func CanTransition(from, to State) bool {
	if !KnownState(from) || !KnownState(to) {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition unless from -> to is legal.
func ValidateTransition(from, to State) error {
	if !KnownState(from) {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, from)
	}
	if !KnownState(to) {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// StageEvent describes the result of one stage attempt for state resolution.
type StageEvent struct {
	Stage   Stage
	Success bool
	// Exhausted is true when this attempt consumed the last allowed retry.
	// A failure below the cap keeps the current state so the record stays
	// eligible; a failure at the cap produces the *_FAILED transition.
	Exhausted bool
	// HasDocument reports whether a local document was part of the archive
	// upload. Only consulted by the archive stage.
	HasDocument bool
	// HasWaybackURL reports whether a wayback snapshot URL is on record.
	// Only consulted by the archive stage.
	HasWaybackURL bool
}

// NextState resolves the state an event moves the record into. It is a pure
// function; the caller still runs ValidateTransition before persisting.
func NextState(current State, ev StageEvent) (State, error) {
	if !KnownState(current) {
		return "", fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, current)
	}

	switch ev.Stage {
	case StageDownload:
		if ev.Success {
			return StateDownloadSuccess, nil
		}
		if ev.Exhausted {
			return StateDownloadFailed, nil
		}
		return current, nil

	case StageWayback:
		if ev.Success {
			return StateWaybackUploaded, nil
		}
		if ev.Exhausted {
			return StateWaybackUploadFailed, nil
		}
		return current, nil

	case StageArchive:
		if !ev.Success {
			return current, nil
		}
		if !ev.HasDocument {
			return StateArchivedWithoutDoc, nil
		}
		if ev.HasWaybackURL {
			return StateArchivedWithWayback, nil
		}
		return StateArchivedWithoutWayback, nil
	}

	return "", fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, ev.Stage)
}

// ReachableStates returns the set of states reachable from FETCHED through
// the transition table. Used by the validator.
func ReachableStates() map[State]bool {
	seen := map[State]bool{StateFetched: true}
	frontier := []State{StateFetched}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, next := range transitions[current] {
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return seen
}
