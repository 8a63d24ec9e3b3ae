package game

import (
	"errors"
	"fmt"

	"github.com/park285/Cheese-Arena/internal/chess/rules"
)

var (
	ErrHumanInputDisabled  = errors.New("human input disabled in engine-vs-engine mode")
	ErrNotHumanTurn        = errors.New("not the human player's turn")
	ErrIllegalMove         = rules.ErrIllegalMove
	ErrServiceStopped      = errors.New("game service stopped")
	ErrAutoPlayUnavailable = errors.New("auto-play requires engine-vs-engine mode")
	ErrNoSavedGame         = errors.New("no saved game")
	ErrNoSnapshotStore     = errors.New("snapshot store not configured")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindRulesViolation
	KindEngineCommunicationFailure
	KindHistoryReconstructionFailure
	KindPersistenceFailure
)

func (k Kind) String() string {
	switch k {
	case KindRulesViolation:
		return "RulesViolation"
	case KindEngineCommunicationFailure:
		return "EngineCommunicationFailure"
	case KindHistoryReconstructionFailure:
		return "HistoryReconstructionFailure"
	case KindPersistenceFailure:
		return "PersistenceFailure"
	default:
		return "Unknown"
	}
}

// Source maps the kind onto the error-log category.
func (k Kind) Source() Source {
	switch k {
	case KindRulesViolation, KindHistoryReconstructionFailure:
		return SourceRulesOracle
	case KindEngineCommunicationFailure:
		return SourceAnalysisEngine
	case KindPersistenceFailure:
		return SourcePersistence
	default:
		return SourceUnknown
	}
}

// Error is a classified failure inside the game service.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}
