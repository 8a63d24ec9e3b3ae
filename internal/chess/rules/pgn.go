package rules

import (
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Imported is a game parsed from PGN.
type Imported struct {
	Position Position
	History  []string
}

// ParsePGN extracts the SAN history and final position of the first game
// in text. Games set up from a custom FEN keep that start position, so
// their history will not replay from the standard initial position.
func (o Oracle) ParsePGN(text string) (Imported, error) {
	if strings.TrimSpace(text) == "" {
		return Imported{}, fmt.Errorf("%w: empty input", ErrInvalidPGN)
	}
	opt, err := nchess.PGN(strings.NewReader(text))
	if err != nil {
		return Imported{}, fmt.Errorf("%w: %v", ErrInvalidPGN, err)
	}
	game := nchess.NewGame(opt)
	moves := game.Moves()
	positions := game.Positions()
	if len(positions) < len(moves)+1 {
		return Imported{}, fmt.Errorf("%w: %d positions for %d moves", ErrInvalidPGN, len(positions), len(moves))
	}

	start := initialFEN
	if first := positions[0]; first != nil {
		start = first.String()
	}
	if fen, err := FromFEN(start); err == nil {
		start = fen.FEN()
	}

	history := make([]string, 0, len(moves))
	line := make([]string, 0, len(moves))
	for i, mv := range moves {
		history = append(history, nchess.AlgebraicNotation{}.Encode(positions[i], mv))
		line = append(line, strings.ToLower(mv.String()))
	}

	rebuilt, err := buildGame(start, line)
	if err != nil {
		return Imported{}, fmt.Errorf("%w: %v", ErrInvalidPGN, err)
	}
	return Imported{
		Position: Position{fen: rebuilt.FEN(), start: start, line: line},
		History:  history,
	}, nil
}

// ExportPGN renders the position's game with the given tag pairs.
func (o Oracle) ExportPGN(pos Position, tags map[string]string) (string, error) {
	game, err := pos.game()
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			game.AddTagPair(k, v)
		}
	}
	if pos.StartFEN() != initialFEN {
		game.AddTagPair("SetUp", "1")
		game.AddTagPair("FEN", pos.StartFEN())
	}
	return game.String(), nil
}
