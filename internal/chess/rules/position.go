package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-Arena/internal/domain"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var initialFEN = nchess.NewGame().FEN()

// Position is an immutable board state. Besides the FEN it keeps the UCI
// line that produced it from its start position, which lets the oracle
// rebuild the full game (repetition counts, single-ply undo) on demand.
type Position struct {
	fen   string
	start string
	line  []string
}

func Initial() Position {
	return Position{fen: initialFEN, start: initialFEN}
}

// FromFEN builds a position with no move line behind it.
func FromFEN(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return Initial(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	normalized := nchess.NewGame(opt).FEN()
	return Position{fen: normalized, start: normalized}, nil
}

func (p Position) FEN() string {
	if p.fen == "" {
		return initialFEN
	}
	return p.fen
}

func (p Position) StartFEN() string {
	if p.start == "" {
		return initialFEN
	}
	return p.start
}

// Line returns a copy of the UCI moves played from StartFEN.
func (p Position) Line() []string {
	return append([]string(nil), p.line...)
}

func (p Position) Plies() int { return len(p.line) }

func (p Position) IsInitial() bool { return p.FEN() == initialFEN }

func (p Position) SideToMove() domain.Color {
	fields := strings.Fields(p.FEN())
	if len(fields) > 1 && fields[1] == "b" {
		return domain.Black
	}
	return domain.White
}

// Equal compares board state only; two positions reached by different
// lines are equal when their FEN matches.
func (p Position) Equal(other Position) bool {
	return p.FEN() == other.FEN()
}

func (p Position) String() string { return p.FEN() }

func (p Position) advance(fen, uci string) Position {
	line := make([]string, len(p.line), len(p.line)+1)
	copy(line, p.line)
	return Position{fen: fen, start: p.StartFEN(), line: append(line, uci)}
}

// game rebuilds a library game for the position. Every call returns a
// fresh value so callers may mutate it freely.
func (p Position) game() (*nchess.Game, error) {
	return buildGame(p.StartFEN(), p.line)
}

func buildGame(start string, line []string) (*nchess.Game, error) {
	var game *nchess.Game
	if start == "" || start == initialFEN {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(start)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
		}
		game = nchess.NewGame(opt)
	}
	for i, mv := range line {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply line move %d %q: %w", i, mv, err)
		}
	}
	return game, nil
}
