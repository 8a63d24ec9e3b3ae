package game

import (
	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

// event is anything the actor consumes. Commands carry a reply channel;
// internal events do not.
type event interface {
	name() string
}

type reply struct {
	snapshot Snapshot
	applied  bool
	san      string
	text     string
	err      error
}

// command is embedded by user-initiated events.
type command struct {
	replyTo chan reply
}

func newCommand() command { return command{replyTo: make(chan reply, 1)} }

// respond never blocks; a second response (after a recovered panic) is
// dropped.
func (c command) respond(r reply) {
	select {
	case c.replyTo <- r:
	default:
	}
}

type replier interface {
	respond(reply)
}

type (
	humanMoveCmd struct {
		command
		candidate rules.Candidate
	}
	undoCmd struct {
		command
		toHumanTurn bool
	}
	resetCmd          struct{ command }
	startCmd          struct{ command }
	setPreferencesCmd struct {
		command
		prefs domain.Preferences
	}
	setAutoPlayCmd struct {
		command
		active bool
	}
	saveCmd      struct{ command }
	loadCmd      struct{ command }
	clearSaveCmd struct{ command }
	importPGNCmd struct {
		command
		text string
	}
	exportPGNCmd struct{ command }
	snapshotCmd  struct{ command }
)

func (humanMoveCmd) name() string      { return "humanMove" }
func (undoCmd) name() string           { return "undo" }
func (resetCmd) name() string          { return "reset" }
func (startCmd) name() string          { return "start" }
func (setPreferencesCmd) name() string { return "setPreferences" }
func (setAutoPlayCmd) name() string    { return "setAutoPlay" }
func (saveCmd) name() string           { return "save" }
func (loadCmd) name() string           { return "load" }
func (clearSaveCmd) name() string      { return "clearSave" }
func (importPGNCmd) name() string      { return "importPGN" }
func (exportPGNCmd) name() string      { return "exportPGN" }
func (snapshotCmd) name() string       { return "snapshot" }

type (
	aiDelayElapsed struct {
		turn *aiTurn
	}
	aiMoveComputed struct {
		turn   *aiTurn
		result analysis.Result
	}
	evaluationUpdated struct {
		evaluation analysis.Evaluation
	}
	engineReady  struct{}
	engineFailed struct {
		err error
	}
	autosaveTick struct{}
)

func (aiDelayElapsed) name() string    { return "aiDelayElapsed" }
func (aiMoveComputed) name() string    { return "aiMoveComputed" }
func (evaluationUpdated) name() string { return "evaluationUpdated" }
func (engineReady) name() string       { return "engineReady" }
func (engineFailed) name() string      { return "engineFailed" }
func (autosaveTick) name() string      { return "autosaveTick" }
