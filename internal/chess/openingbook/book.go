package openingbook

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

// Move is one polyglot book continuation in UCI form.
type Move struct {
	UCI    string `json:"move"`
	Weight uint16 `json:"weight"`
}

// Info describes the opening reached by a move history.
type Info struct {
	Code  string `json:"code,omitempty"`
	Title string `json:"title,omitempty"`
	Moves []Move `json:"moves"`
}

// Book combines the built-in ECO table with an optional polyglot book.
type Book struct {
	eco      *opening.BookECO
	polyglot *chesslib.PolyglotBook
	path     string
}

// Open loads the polyglot book at path. An empty path falls back to
// CHESS_POLYGLOT_BOOK_PATH and the default locations; when none exists
// the book only names openings.
func Open(path string) (*Book, error) {
	b := &Book{eco: opening.NewBookECO()}
	if strings.TrimSpace(path) == "" {
		resolved, err := ResolveBookPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	if path == "" {
		return b, nil
	}
	pg, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	b.polyglot = pg
	b.path = path
	return b, nil
}

// FromReader builds a book from polyglot data already in memory.
func FromReader(r io.Reader) (*Book, error) {
	pg, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book: %w", err)
	}
	return &Book{eco: opening.NewBookECO(), polyglot: pg}, nil
}

func (b *Book) HasPolyglot() bool { return b != nil && b.polyglot != nil }

func (b *Book) Path() string { return b.path }

// Lookup replays the SAN history from the standard start and reports the
// ECO opening plus book moves for the resulting position, heaviest first.
func (b *Book) Lookup(history []string) (Info, error) {
	game, err := buildGame(history)
	if err != nil {
		return Info{}, err
	}
	info := Info{Moves: []Move{}}
	if b.eco != nil && len(history) > 0 {
		if eco := b.eco.Find(game.Moves()); eco != nil {
			info.Code = eco.Code()
			info.Title = eco.Title()
		}
	}
	if b.polyglot == nil {
		return info, nil
	}

	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return Info{}, fmt.Errorf("compute polyglot hash: %w", err)
	}
	for _, entry := range b.polyglot.FindMoves(chesslib.ZobristHashToUint64(hashStr)) {
		mv := chesslib.DecodeMove(entry.Move).ToMove()
		uci := mv.String()
		if !legal(game, uci) {
			continue
		}
		info.Moves = append(info.Moves, Move{UCI: uci, Weight: entry.Weight})
	}
	sort.SliceStable(info.Moves, func(i, j int) bool { return info.Moves[i].Weight > info.Moves[j].Weight })
	return info, nil
}

func legal(game *chesslib.Game, uci string) bool {
	opt, err := chesslib.FEN(game.FEN())
	if err != nil {
		return false
	}
	probe := chesslib.NewGame(opt)
	return probe.PushNotationMove(uci, chesslib.UCINotation{}, nil) == nil
}

func ResolveBookPath() (string, error) {
	if envPath := os.Getenv("CHESS_POLYGLOT_BOOK_PATH"); envPath != "" {
		if exists(envPath) {
			return envPath, nil
		}
		return "", fmt.Errorf("env CHESS_POLYGLOT_BOOK_PATH points to missing file: %s", envPath)
	}
	for _, candidate := range defaultBookPaths() {
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func defaultBookPaths() []string {
	return []string{
		filepath.Join("resources", "opening", "Cerebellum3Merge.bin"),
		filepath.Join("resources", "opening", "book.bin"),
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func buildGame(history []string) (*chesslib.Game, error) {
	game := chesslib.NewGame()
	for i, mv := range history {
		if err := game.PushNotationMove(mv, chesslib.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %d %q: %w", i, mv, err)
		}
	}
	return game, nil
}

func LoadFromPath(bookPath string) (*chesslib.PolyglotBook, error) {
	if strings.TrimSpace(bookPath) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(bookPath)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", bookPath, err)
	}
	defer file.Close()

	book, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", bookPath, err)
	}
	return book, nil
}
