package game

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

func (s *Service) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.runCtx, persistTimeout)
}

// loadPreferences resolves the stored preferences once at start.
func (s *Service) loadPreferences(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, persistTimeout)
	defer cancel()
	rec, err := s.settings.Get(ctx, s.sessionID)
	if err != nil {
		s.record(newError(KindPersistenceFailure, "loadPreferences", err), "errors.settings_failed", nil)
		return
	}
	if rec == nil {
		return
	}
	s.prefs = normalizePreferences(rec.Preferences)
	s.logger.Info("game_preferences_loaded", zap.String("session_id", s.sessionID), zap.String("mode", string(s.prefs.Mode)))
}

func (s *Service) savePreferences() {
	if s.settings == nil {
		return
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	rec := domain.SettingsRecord{SessionID: s.sessionID, Preferences: s.prefs, UpdatedAt: s.clock.Now()}
	if err := s.settings.Save(ctx, rec); err != nil {
		s.record(newError(KindPersistenceFailure, "savePreferences", err), "errors.settings_failed", nil)
	}
}

func (s *Service) gameRecord() domain.GameRecord {
	return domain.GameRecord{
		FEN:         s.pos.FEN(),
		MoveHistory: append([]string{}, s.history...),
		Timestamp:   s.clock.Now().UnixMilli(),
	}
}

func (s *Service) saveGame(op string) error {
	if s.games == nil {
		return ErrNoSnapshotStore
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	if err := s.games.Save(ctx, s.sessionID, s.gameRecord()); err != nil {
		ge := newError(KindPersistenceFailure, op, err)
		s.record(ge, "errors.save_failed", nil)
		return ge
	}
	s.logger.Debug("game_saved", zap.String("op", op), zap.Int("plies", len(s.history)))
	return nil
}

// loadGame restores the saved snapshot. Anything unusable leaves a fresh
// game behind. On start a missing snapshot is normal and stays quiet.
func (s *Service) loadGame(parent context.Context, atStart bool) error {
	if s.games == nil {
		return ErrNoSnapshotStore
	}
	ctx, cancel := context.WithTimeout(parent, persistTimeout)
	defer cancel()
	rec, err := s.games.Load(ctx, s.sessionID)

	s.cancelPendingAI()
	s.stopAnalysis()
	s.errors.Clear()
	s.autoPlay = false

	if err != nil {
		ge := newError(KindPersistenceFailure, "load", err)
		s.record(ge, "errors.load_failed", nil)
		s.freshGame()
		return ge
	}
	if rec == nil {
		s.freshGame()
		if atStart {
			return nil
		}
		ge := newError(KindPersistenceFailure, "load", ErrNoSavedGame)
		s.record(ge, "errors.load_missing", nil)
		return ge
	}

	pos, history, err := s.restore(*rec)
	if err != nil {
		ge := newError(KindPersistenceFailure, "load", err)
		s.record(ge, "errors.load_failed", nil)
		s.freshGame()
		return ge
	}
	s.started = len(history) > 0
	s.commit(pos, history)
	s.logger.Info("game_loaded",
		zap.String("session_id", s.sessionID),
		zap.Int("plies", len(history)),
		zap.Time("saved_at", rec.SavedAt()),
	)
	return nil
}

// restore rebuilds the position of a saved record. The history is the
// source of truth; a history that does not replay from the initial
// position is kept alongside its FEN as foreign data.
func (s *Service) restore(rec domain.GameRecord) (rules.Position, []string, error) {
	history := append([]string{}, rec.MoveHistory...)
	pos, replayErr := s.rules.Replay(history)
	if replayErr == nil {
		if rec.FEN != "" && rec.FEN != pos.FEN() {
			s.logger.Warn("game_load_fen_mismatch", zap.String("saved", rec.FEN), zap.String("replayed", pos.FEN()))
		}
		return pos, history, nil
	}
	fromFEN, err := rules.FromFEN(rec.FEN)
	if err != nil || rec.FEN == "" {
		return rules.Position{}, nil, fmt.Errorf("corrupt snapshot: %v", replayErr)
	}
	s.logger.Warn("game_load_foreign_history", zap.Error(replayErr), zap.Int("plies", len(history)))
	return fromFEN, history, nil
}

func (s *Service) freshGame() {
	s.started = false
	s.commit(rules.Initial(), nil)
}

func (s *Service) clearSavedGame() error {
	if s.games == nil {
		return ErrNoSnapshotStore
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	if err := s.games.Delete(ctx, s.sessionID); err != nil {
		ge := newError(KindPersistenceFailure, "clearSave", err)
		s.record(ge, "errors.save_failed", nil)
		return ge
	}
	return nil
}

func (s *Service) scheduleAutosave() {
	if s.games == nil || s.autosaveEvery <= 0 {
		return
	}
	s.autosaveTimer = s.clock.AfterFunc(s.autosaveEvery, func() { s.post(autosaveTick{}) })
}

func (s *Service) onAutosave() {
	if !s.result().Terminal() {
		_ = s.saveGame("autosave")
	}
	s.scheduleAutosave()
}

func (s *Service) importPGN(text string) error {
	imp, err := s.rules.ParsePGN(text)
	if err == nil && len(imp.History) == 0 {
		err = fmt.Errorf("%w: no moves", rules.ErrInvalidPGN)
	}
	if err != nil {
		ge := newError(KindRulesViolation, "importPGN", err)
		s.record(ge, "errors.pgn_invalid", nil)
		return ge
	}
	s.cancelPendingAI()
	s.stopAnalysis()
	s.errors.Clear()
	s.autoPlay = false
	s.started = true
	s.commit(imp.Position, imp.History)
	s.logger.Info("game_pgn_imported", zap.Int("plies", len(imp.History)))
	if s.games != nil {
		_ = s.saveGame("importPGN")
	}
	return nil
}

func (s *Service) exportPGN() (string, error) {
	tags := map[string]string{
		"Event": "Cheese Arena",
		"Site":  "local",
		"Date":  s.clock.Now().Format("2006.01.02"),
		"White": s.playerName(domain.White),
		"Black": s.playerName(domain.Black),
	}
	text, err := s.rules.ExportPGN(s.pos, tags)
	if err != nil {
		ge := newError(KindRulesViolation, "exportPGN", err)
		s.record(ge, "errors.unknown", nil)
		return "", ge
	}
	return text, nil
}

func (s *Service) playerName(side domain.Color) string {
	engine := func(level int) string {
		return "Engine (" + chess.PresetFor(level).Name + ", level " + strconv.Itoa(chess.ClampDifficulty(level)) + ")"
	}
	switch s.prefs.Mode {
	case domain.ModeVsAI:
		if side == s.prefs.PlayerColor {
			return "Human"
		}
		return engine(s.prefs.AIDifficulty)
	case domain.ModeAIVsAI:
		if side == domain.White {
			return engine(s.prefs.WhiteAIDifficulty)
		}
		return engine(s.prefs.BlackAIDifficulty)
	default:
		return "Human"
	}
}

// IsPersistenceFailure reports whether err came from a snapshot or
// preference store.
func IsPersistenceFailure(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindPersistenceFailure
}
