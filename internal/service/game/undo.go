package game

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

// reconstruct undoes one ply by replaying the shortened history from the
// initial position. When the history does not replay (foreign or corrupt
// data) it steps the current position back one ply instead and trims the
// history regardless.
func (s *Service) reconstruct() {
	s.stopAnalysis()
	if len(s.history) == 0 {
		return
	}
	shorter := append([]string(nil), s.history[:len(s.history)-1]...)

	pos, err := s.rules.Replay(shorter)
	if err == nil {
		s.started = len(shorter) > 0
		s.commit(pos, shorter)
		return
	}

	data := map[string]any{"Index": -1, "Move": ""}
	var re *rules.ReplayError
	if errors.As(err, &re) {
		data["Index"] = re.Index
		data["Move"] = re.Move
	}
	s.record(newError(KindHistoryReconstructionFailure, "undo", err), "errors.reconstruct_failed", data)

	prev, ok := s.undoPly()
	if !ok {
		s.record(newError(KindHistoryReconstructionFailure, "undo", fmt.Errorf("no rules undo for current position")), "errors.undo_unavailable", nil)
		prev = s.pos
	}
	s.logger.Warn("game_undo_degraded", zap.Int("history", len(shorter)), zap.Bool("rules_undo", ok))
	s.started = len(shorter) > 0
	s.commit(prev, shorter)
}

// undoPly wraps the oracle's single-ply undo; it never panics.
func (s *Service) undoPly() (pos rules.Position, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("game_undo_ply_panic", zap.Any("panic", r))
			pos, ok = s.pos, false
		}
	}()
	return s.rules.UndoPly(s.pos)
}

// undoTurn undoes plies until the human is to move again. In local and
// engine-vs-engine play that is a single ply.
func (s *Service) undoTurn() {
	s.reconstruct()
	if s.prefs.Mode != domain.ModeVsAI {
		return
	}
	for len(s.history) > 0 && domain.OwnerOf(s.prefs.Mode, s.pos.SideToMove(), s.prefs.PlayerColor) != domain.TurnHuman {
		before := len(s.history)
		s.reconstruct()
		if len(s.history) == before {
			return
		}
	}
}
