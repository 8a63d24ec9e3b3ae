package chess

import (
	"fmt"
	"sync"
)

// DifficultyPreset bounds one engine search. Levels are ordered so that
// both limits grow monotonically.
type DifficultyPreset struct {
	Name           string
	Level          int
	DepthCap       int
	MoveTimeMillis int
}

const (
	MinDifficulty = 0
	MaxDifficulty = 5

	// AnalysisDepth is the fixed depth used for background evaluation.
	AnalysisDepth = 15
)

var presetMu sync.RWMutex

var difficultyTable = []DifficultyPreset{
	{Name: "beginner", Level: 0, DepthCap: 2, MoveTimeMillis: 100},
	{Name: "casual", Level: 1, DepthCap: 5, MoveTimeMillis: 300},
	{Name: "club", Level: 2, DepthCap: 8, MoveTimeMillis: 600},
	{Name: "expert", Level: 3, DepthCap: 12, MoveTimeMillis: 1000},
	{Name: "master", Level: 4, DepthCap: 15, MoveTimeMillis: 1500},
	{Name: "grandmaster", Level: 5, DepthCap: 20, MoveTimeMillis: 3000},
}

// ClampDifficulty maps any ordinal onto the valid table range.
func ClampDifficulty(level int) int {
	if level < MinDifficulty {
		return MinDifficulty
	}
	if level > MaxDifficulty {
		return MaxDifficulty
	}
	return level
}

// PresetFor returns the preset for level after clamping.
func PresetFor(level int) DifficultyPreset {
	presetMu.RLock()
	defer presetMu.RUnlock()
	return difficultyTable[ClampDifficulty(level)]
}

func Presets() []DifficultyPreset {
	presetMu.RLock()
	defer presetMu.RUnlock()
	return append([]DifficultyPreset(nil), difficultyTable...)
}

// OverridePreset replaces a table entry. The table must stay monotonic.
func OverridePreset(p DifficultyPreset) error {
	if err := ValidatePreset(p); err != nil {
		return err
	}
	if p.Level < MinDifficulty || p.Level > MaxDifficulty {
		return fmt.Errorf("difficulty level %d out of range %d-%d", p.Level, MinDifficulty, MaxDifficulty)
	}

	presetMu.Lock()
	defer presetMu.Unlock()

	next := append([]DifficultyPreset(nil), difficultyTable...)
	next[p.Level] = p
	for i := 1; i < len(next); i++ {
		if next[i].DepthCap < next[i-1].DepthCap || next[i].MoveTimeMillis < next[i-1].MoveTimeMillis {
			return fmt.Errorf("preset %s breaks monotonic limits at level %d", p.Name, i)
		}
	}
	difficultyTable = next
	return nil
}

func ValidatePreset(p DifficultyPreset) error {
	switch {
	case p.DepthCap < 0:
		return fmt.Errorf("depth cap must be >= 0: %d", p.DepthCap)
	case p.MoveTimeMillis < 0:
		return fmt.Errorf("move time must be >= 0: %d", p.MoveTimeMillis)
	case p.DepthCap == 0 && p.MoveTimeMillis == 0:
		return fmt.Errorf("preset %s does not define search limits", p.Name)
	}
	return nil
}
