package domain

import (
	"strings"
	"time"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// ParseColor accepts both the long form and the single-letter FEN form.
func ParseColor(raw string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	default:
		return "", false
	}
}

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeVsAI   Mode = "vsAI"
	ModeAIVsAI Mode = "aiVsAi"
)

func ParseMode(raw string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "local", "":
		return ModeLocal, true
	case "vsai":
		return ModeVsAI, true
	case "aivsai":
		return ModeAIVsAI, true
	default:
		return "", false
	}
}

type TurnOwner string

const (
	TurnHuman TurnOwner = "human"
	TurnAI    TurnOwner = "ai"
)

// OwnerOf classifies who plays the side to move.
func OwnerOf(mode Mode, sideToMove, playerColor Color) TurnOwner {
	switch mode {
	case ModeAIVsAI:
		return TurnAI
	case ModeVsAI:
		if sideToMove == playerColor {
			return TurnHuman
		}
		return TurnAI
	default:
		return TurnHuman
	}
}

type Preferences struct {
	Mode              Mode  `json:"gameMode"`
	AIDifficulty      int   `json:"aiDifficulty"`
	WhiteAIDifficulty int   `json:"whiteAIDifficulty"`
	BlackAIDifficulty int   `json:"blackAIDifficulty"`
	PlayerColor       Color `json:"playerColor"`
	BoardOrientation  Color `json:"boardOrientation"`

	ToggleLocalTwoPlayer bool `json:"toggleLocalTwoPlayer"`
	ToggleVsAI           bool `json:"toggleVsAI"`
	ToggleAIVsAI         bool `json:"toggleAIVSAI"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Mode:                 ModeLocal,
		AIDifficulty:         1,
		WhiteAIDifficulty:    1,
		BlackAIDifficulty:    2,
		PlayerColor:          White,
		BoardOrientation:     White,
		ToggleLocalTwoPlayer: true,
		ToggleVsAI:           true,
		ToggleAIVsAI:         true,
	}
}

// Normalize fills unknown enum values from the defaults so callers never
// branch on a partially specified record.
func (p Preferences) Normalize() Preferences {
	def := DefaultPreferences()
	if m, ok := ParseMode(string(p.Mode)); ok {
		p.Mode = m
	} else {
		p.Mode = def.Mode
	}
	if c, ok := ParseColor(string(p.PlayerColor)); ok {
		p.PlayerColor = c
	} else {
		p.PlayerColor = def.PlayerColor
	}
	if c, ok := ParseColor(string(p.BoardOrientation)); ok {
		p.BoardOrientation = c
	} else {
		p.BoardOrientation = def.BoardOrientation
	}
	return p
}

// GameRecord is the persisted snapshot blob of a game in progress.
type GameRecord struct {
	FEN         string   `json:"fen"`
	MoveHistory []string `json:"moveHistory"`
	Timestamp   int64    `json:"timestamp"`
}

func (r GameRecord) SavedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

type SettingsRecord struct {
	SessionID   string      `json:"sessionId"`
	Preferences Preferences `json:"preferences"`
	UpdatedAt   time.Time   `json:"updatedAt,omitempty"`
}
