package game

import (
	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseInProgress Phase = "in_progress"
	PhaseTerminal   Phase = "terminal"
)

type Stats struct {
	AppliedAIMoves   int `json:"appliedAIMoves"`
	DiscardedAIMoves int `json:"discardedAIMoves"`
	CancelledAITurns int `json:"cancelledAITurns"`
}

// Snapshot is a read-only copy of the game state. Nothing in it aliases
// the actor's own state.
type Snapshot struct {
	SessionID   string              `json:"sessionId"`
	FEN         string              `json:"fen"`
	History     []string            `json:"moveHistory"`
	Phase       Phase               `json:"phase"`
	Result      rules.Result        `json:"result"`
	SideToMove  domain.Color        `json:"sideToMove"`
	TurnOwner   domain.TurnOwner    `json:"turnOwner"`
	Preferences domain.Preferences  `json:"preferences"`
	AutoPlay    bool                `json:"autoPlay"`
	EngineReady bool                `json:"engineReady"`
	AIPending   bool                `json:"aiPending"`
	Evaluation  analysis.Evaluation `json:"evaluation"`
	Errors      []ErrorRecord       `json:"errors"`
	Epoch       uint64              `json:"epoch"`
	Stats       Stats               `json:"stats"`
}

func (s Snapshot) GameOver() bool { return s.Phase == PhaseTerminal }

// MoveResult reports the outcome of a human move.
type MoveResult struct {
	Applied  bool     `json:"applied"`
	SAN      string   `json:"san,omitempty"`
	Snapshot Snapshot `json:"snapshot"`
}
