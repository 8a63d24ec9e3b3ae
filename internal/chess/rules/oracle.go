package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-Arena/internal/domain"
)

var (
	ErrIllegalMove      = errors.New("illegal move")
	ErrInvalidCandidate = errors.New("invalid move candidate")
	ErrInvalidFEN       = errors.New("invalid fen")
	ErrInvalidPGN       = errors.New("invalid pgn")
)

// IllegalMoveError carries the library's rejection reason.
type IllegalMoveError struct {
	Move   string
	Reason string
}

func (e *IllegalMoveError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("illegal move %s", e.Move)
	}
	return fmt.Sprintf("illegal move %s: %s", e.Move, e.Reason)
}

func (e *IllegalMoveError) Is(target error) bool { return target == ErrIllegalMove }

// ReplayError reports the first history entry that could not be replayed.
type ReplayError struct {
	Index int
	Move  string
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay failed at ply %d (%s): %v", e.Index, e.Move, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

type ResultKind string

const (
	InProgress                 ResultKind = "in_progress"
	Checkmate                  ResultKind = "checkmate"
	Stalemate                  ResultKind = "stalemate"
	DrawByRepetition           ResultKind = "draw_by_repetition"
	DrawByInsufficientMaterial ResultKind = "draw_by_insufficient_material"
	DrawByFiftyMoveRule        ResultKind = "draw_by_fifty_move_rule"
	DrawGeneric                ResultKind = "draw_generic"
)

type Result struct {
	Kind   ResultKind   `json:"kind"`
	Winner domain.Color `json:"winner,omitempty"`
}

func (r Result) Terminal() bool { return r.Kind != "" && r.Kind != InProgress }

// Oracle adapts the rules library to immutable positions. The zero value
// is ready to use.
type Oracle struct{}

// Apply plays the candidate on pos and returns the resulting position and
// the SAN of the ply. A candidate without promotion that only becomes
// legal as a promotion is played as a queen promotion.
func (o Oracle) Apply(pos Position, c Candidate) (Position, string, error) {
	next, san, err := o.apply(pos, c)
	if err != nil && c.Promotion == "" && errors.Is(err, ErrIllegalMove) {
		if promoted, promotedSAN, perr := o.apply(pos, c.withPromotion("q")); perr == nil {
			return promoted, promotedSAN, nil
		}
	}
	return next, san, err
}

func (o Oracle) apply(pos Position, c Candidate) (Position, string, error) {
	uci := c.UCI()
	if !coordinatePattern.MatchString(uci) {
		return pos, "", fmt.Errorf("%w: %q", ErrInvalidCandidate, uci)
	}
	game, err := pos.game()
	if err != nil {
		return pos, "", err
	}
	before := game.Position()
	mv, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		return pos, "", &IllegalMoveError{Move: uci, Reason: err.Error()}
	}
	if err := game.Move(mv, nil); err != nil {
		return pos, "", &IllegalMoveError{Move: uci, Reason: err.Error()}
	}
	san := nchess.AlgebraicNotation{}.Encode(before, mv)
	return pos.advance(game.FEN(), strings.ToLower(mv.String())), san, nil
}

// Classify derives the game result. Claimable draws (threefold, fifty
// moves) count as terminal, matching what players expect from a UI.
func (o Oracle) Classify(pos Position) Result {
	game, err := pos.game()
	if err != nil {
		return Result{Kind: InProgress}
	}
	switch game.Method() {
	case nchess.Checkmate:
		winner := domain.White
		if game.Outcome() == nchess.BlackWon {
			winner = domain.Black
		}
		return Result{Kind: Checkmate, Winner: winner}
	case nchess.Stalemate:
		return Result{Kind: Stalemate}
	case nchess.FivefoldRepetition, nchess.ThreefoldRepetition:
		return Result{Kind: DrawByRepetition}
	case nchess.InsufficientMaterial:
		return Result{Kind: DrawByInsufficientMaterial}
	case nchess.SeventyFiveMoveRule, nchess.FiftyMoveRule:
		return Result{Kind: DrawByFiftyMoveRule}
	}
	if game.Outcome() == nchess.Draw {
		return Result{Kind: DrawGeneric}
	}
	eligible := game.EligibleDraws()
	for _, m := range eligible {
		if m == nchess.ThreefoldRepetition {
			return Result{Kind: DrawByRepetition}
		}
	}
	for _, m := range eligible {
		if m == nchess.FiftyMoveRule {
			return Result{Kind: DrawByFiftyMoveRule}
		}
	}
	return Result{Kind: InProgress}
}

func (o Oracle) IsTerminal(pos Position) bool {
	return o.Classify(pos).Terminal()
}

// Replay plays a SAN history from the initial position.
func (o Oracle) Replay(history []string) (Position, error) {
	game := nchess.NewGame()
	pos := Initial()
	for i, san := range history {
		text := strings.TrimSpace(san)
		if text == "" {
			return Initial(), &ReplayError{Index: i, Move: san, Err: ErrIllegalMove}
		}
		if err := game.PushNotationMove(text, nchess.AlgebraicNotation{}, nil); err != nil {
			return Initial(), &ReplayError{Index: i, Move: san, Err: err}
		}
		moves := game.Moves()
		if len(moves) == 0 {
			return Initial(), &ReplayError{Index: i, Move: san, Err: ErrIllegalMove}
		}
		pos = pos.advance(game.FEN(), strings.ToLower(moves[len(moves)-1].String()))
	}
	return pos, nil
}

// UndoPly steps one ply back along the position's own line. It reports
// false when the position has no recorded line (e.g. loaded from FEN).
func (o Oracle) UndoPly(pos Position) (Position, bool) {
	n := len(pos.line)
	if n == 0 {
		return pos, false
	}
	line := append([]string(nil), pos.line[:n-1]...)
	game, err := buildGame(pos.StartFEN(), line)
	if err != nil {
		return pos, false
	}
	return Position{fen: game.FEN(), start: pos.StartFEN(), line: line}, true
}
