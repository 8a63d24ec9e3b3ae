package chess

import (
	"strconv"
	"strings"
)

// BuildGoCommand renders the best-move search for a preset as
// "go movetime <ms> depth <n>".
func BuildGoCommand(p DifficultyPreset) ([]string, error) {
	if err := ValidatePreset(p); err != nil {
		return nil, err
	}

	args := []string{"go"}
	if p.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(p.MoveTimeMillis))
	}
	if p.DepthCap > 0 {
		args = append(args, "depth", strconv.Itoa(p.DepthCap))
	}
	return args, nil
}

func FormatGoCommand(p DifficultyPreset) (string, error) {
	args, err := BuildGoCommand(p)
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}

// AnalysisGoCommand is the open-ended evaluation search.
func AnalysisGoCommand() string {
	return "go depth " + strconv.Itoa(AnalysisDepth)
}
