package game

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

// aiTurn is one scheduled engine move, keyed to the state it was planned
// for.
type aiTurn struct {
	seq        uint64
	epoch      uint64
	fen        string
	side       domain.Color
	mode       domain.Mode
	difficulty int
	delay      time.Duration

	timer Timer
	req   *analysis.Request
}

// shouldScheduleAI decides whether the side to move is played by the
// engine right now, and at which difficulty and pace.
func (s *Service) shouldScheduleAI() (difficulty int, delay time.Duration, ok bool) {
	if s.analyzer == nil || !s.analyzer.Ready() || s.result().Terminal() {
		return 0, 0, false
	}
	side := s.pos.SideToMove()
	switch s.prefs.Mode {
	case domain.ModeVsAI:
		if domain.OwnerOf(s.prefs.Mode, side, s.prefs.PlayerColor) != domain.TurnAI {
			return 0, 0, false
		}
		return s.prefs.AIDifficulty, s.delays.VsAI, true
	case domain.ModeAIVsAI:
		if !s.autoPlay {
			return 0, 0, false
		}
		if side == domain.White {
			return s.prefs.WhiteAIDifficulty, s.delays.AIVsAI, true
		}
		return s.prefs.BlackAIDifficulty, s.delays.AIVsAI, true
	default:
		return 0, 0, false
	}
}

// maybeScheduleAI keeps at most one AI turn per epoch.
func (s *Service) maybeScheduleAI() {
	if s.pendingAI != nil && s.pendingAI.epoch == s.epoch {
		return
	}
	if s.pendingAI != nil {
		s.cancelPendingAI()
	}
	difficulty, delay, ok := s.shouldScheduleAI()
	if !ok {
		return
	}
	s.aiSeq++
	turn := &aiTurn{
		seq:        s.aiSeq,
		epoch:      s.epoch,
		fen:        s.pos.FEN(),
		side:       s.pos.SideToMove(),
		mode:       s.prefs.Mode,
		difficulty: difficulty,
		delay:      delay,
	}
	s.pendingAI = turn
	turn.timer = s.clock.AfterFunc(delay, func() { s.post(aiDelayElapsed{turn: turn}) })
	s.logger.Debug("game_ai_scheduled",
		zap.Uint64("seq", turn.seq),
		zap.String("side", string(turn.side)),
		zap.Int("difficulty", difficulty),
		zap.Duration("delay", delay),
	)
}

// cancelPendingAI drops the current turn. A request already sent to the
// engine is left to settle; its reply fails revalidation.
func (s *Service) cancelPendingAI() {
	turn := s.pendingAI
	if turn == nil {
		return
	}
	s.pendingAI = nil
	if turn.timer != nil {
		turn.timer.Stop()
	}
	if turn.req == nil {
		s.stats.CancelledAITurns++
	}
}

func (s *Service) onAIDelay(turn *aiTurn) {
	if turn != s.pendingAI || turn.req != nil {
		return
	}
	if reason := s.revalidate(turn); reason != "" {
		s.pendingAI = nil
		s.stats.CancelledAITurns++
		s.logger.Debug("game_ai_turn_cancelled", zap.Uint64("seq", turn.seq), zap.String("reason", reason))
		return
	}
	turn.req = s.analyzer.RequestBestMove(turn.fen, turn.difficulty)
	ctx := s.runCtx
	go func() {
		res, err := turn.req.Wait(ctx)
		if err != nil {
			return
		}
		s.post(aiMoveComputed{turn: turn, result: res})
	}()
}

// revalidate returns why turn may no longer be played, or "".
func (s *Service) revalidate(turn *aiTurn) string {
	switch {
	case s.prefs.Mode != turn.mode:
		return "mode_changed"
	case turn.mode == domain.ModeAIVsAI && !s.autoPlay:
		return "autoplay_off"
	case s.pos.SideToMove() != turn.side:
		return "side_changed"
	case s.result().Terminal():
		return "game_over"
	case s.epoch != turn.epoch || s.pos.FEN() != turn.fen:
		return "position_changed"
	}
	return ""
}

func (s *Service) discardAIMove(turn *aiTurn, res analysis.Result, reason string) {
	s.stats.DiscardedAIMoves++
	s.logger.Debug("game_ai_move_discarded",
		zap.Uint64("seq", turn.seq),
		zap.Uint64("ticket", res.ID),
		zap.String("move", res.Move),
		zap.String("reason", reason),
	)
}

func (s *Service) onAIMove(turn *aiTurn, res analysis.Result) {
	if s.pendingAI == turn {
		s.pendingAI = nil
	}
	switch {
	case res.Err != nil:
		s.discardAIMove(turn, res, "engine_error")
		// engine failures reach the log through the coordinator listener
		if !errors.Is(res.Err, analysis.ErrEngineFailed) && !errors.Is(res.Err, analysis.ErrNotReady) && !errors.Is(res.Err, analysis.ErrClosed) {
			s.record(newError(KindEngineCommunicationFailure, "aiMove", res.Err), "errors.engine_error", nil)
		}
		return
	case res.Stale:
		s.discardAIMove(turn, res, "stale")
		return
	case res.Move == "":
		s.discardAIMove(turn, res, "no_move")
		return
	case res.FEN != "" && res.FEN != turn.fen:
		s.discardAIMove(turn, res, "fen_mismatch")
		return
	}
	if reason := s.revalidate(turn); reason != "" {
		s.discardAIMove(turn, res, reason)
		return
	}

	cand, err := rules.ParseCandidate(res.Move)
	if err == nil {
		var (
			next    rules.Position
			san     string
			applied bool
		)
		next, san, applied, err = applyMove(s.rules, s.pos, cand)
		if err == nil && applied {
			s.started = true
			s.commit(next, appendHistory(s.history, san))
			s.stats.AppliedAIMoves++
			s.logger.Debug("game_move_applied",
				zap.String("by", "ai"),
				zap.String("side", string(turn.side)),
				zap.String("san", san),
				zap.String("fen", next.FEN()),
			)
			return
		}
		if err == nil {
			s.discardAIMove(turn, res, "game_over")
			return
		}
	}
	s.record(newError(KindRulesViolation, "aiMove", err), "errors.engine_move_rejected",
		map[string]any{"Move": res.Move, "Reason": reasonOf(err)})
}
