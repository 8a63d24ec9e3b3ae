package game

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
)

func TestScholarsMateEndsGame(t *testing.T) {
	h := startService(t, nil)
	for _, mv := range []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"} {
		h.move(t, mv)
	}
	snap := h.snapshot(t)
	if snap.Phase != PhaseTerminal {
		t.Fatalf("phase = %s, want terminal", snap.Phase)
	}
	want := rules.Result{Kind: rules.Checkmate, Winner: domain.White}
	if diff := cmp.Diff(want, snap.Result); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if got := snap.History[len(snap.History)-1]; !strings.HasPrefix(got, "Qxf7") {
		t.Fatalf("last SAN = %q, want Qxf7#", got)
	}

	res := h.move(t, "e8e7")
	if res.Applied {
		t.Fatalf("move after mate applied")
	}
	if res.Snapshot.FEN != snap.FEN || len(res.Snapshot.History) != len(snap.History) {
		t.Fatalf("terminal position changed: %s", res.Snapshot.FEN)
	}
}

func TestIllegalMoveIsRejected(t *testing.T) {
	h := startService(t, nil)
	c, _ := rules.ParseCandidate("e2e5")
	res, err := h.svc.HumanMove(testCtx(t), c)
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	if KindOf(err) != KindRulesViolation {
		t.Fatalf("kind = %s, want RulesViolation", KindOf(err))
	}
	if res.Applied || len(res.Snapshot.History) != 0 {
		t.Fatalf("illegal move changed state: %+v", res)
	}
	if res.Snapshot.FEN != rules.Initial().FEN() {
		t.Fatalf("fen = %s", res.Snapshot.FEN)
	}
	if len(res.Snapshot.Errors) != 1 || res.Snapshot.Errors[0].Kind != SourceRulesOracle {
		t.Fatalf("errors = %+v", res.Snapshot.Errors)
	}
	if !strings.Contains(res.Snapshot.Errors[0].Message, "e2e5") {
		t.Fatalf("message = %q", res.Snapshot.Errors[0].Message)
	}
}

func TestHistoryAlwaysReplaysToPosition(t *testing.T) {
	h := startService(t, nil)
	steps := []string{"e2e4", "e7e5", "g1f3", "b8c6", "undo", "b8c6", "f1b5", "a7a6", "undo", "undo"}
	for _, step := range steps {
		var snap Snapshot
		if step == "undo" {
			var err error
			snap, err = h.svc.Undo(testCtx(t))
			if err != nil {
				t.Fatalf("Undo: %v", err)
			}
		} else {
			snap = h.move(t, step).Snapshot
		}
		if got, want := snap.FEN, replayFEN(t, snap.History); got != want {
			t.Fatalf("after %s: fen %s does not match replayed history %v (%s)", step, got, snap.History, want)
		}
	}
}

func TestUndoReplaysShorterHistory(t *testing.T) {
	h := startService(t, nil)
	for _, mv := range []string{"e2e4", "e7e5", "g1f3"} {
		h.move(t, mv)
	}
	snap, err := h.svc.Undo(testCtx(t))
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if diff := cmp.Diff([]string{"e4", "e5"}, snap.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if snap.FEN != replayFEN(t, []string{"e4", "e5"}) {
		t.Fatalf("fen = %s", snap.FEN)
	}
	if len(snap.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", snap.Errors)
	}
}

func TestUndoOnEmptyHistoryIsNoop(t *testing.T) {
	h := startService(t, nil)
	snap, err := h.svc.Undo(testCtx(t))
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if len(snap.History) != 0 || snap.FEN != rules.Initial().FEN() || snap.Phase != PhaseSetup {
		t.Fatalf("snapshot = %+v", snap)
	}
}

// brokenReplay refuses every replay so undo has to fall back.
type brokenReplay struct{ rules.Oracle }

func (brokenReplay) Replay(history []string) (rules.Position, error) {
	mv := ""
	if len(history) > 0 {
		mv = history[0]
	}
	return rules.Position{}, &rules.ReplayError{Index: 0, Move: mv, Err: errors.New("broken")}
}

func TestUndoFallsBackWhenReplayFails(t *testing.T) {
	h := startService(t, brokenReplay{})
	h.move(t, "e2e4")
	h.move(t, "e7e5")

	snap, err := h.svc.Undo(testCtx(t))
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if diff := cmp.Diff([]string{"e4"}, snap.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if snap.FEN != replayFEN(t, []string{"e4"}) {
		t.Fatalf("fen = %s, want position after e4", snap.FEN)
	}
	if len(snap.Errors) != 1 {
		t.Fatalf("errors = %+v", snap.Errors)
	}
	rec := snap.Errors[0]
	if rec.Kind != SourceRulesOracle || !strings.Contains(rec.Message, "ply 0 (e4)") {
		t.Fatalf("record = %+v", rec)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	h := startService(t, nil)
	h.move(t, "e2e4")
	c, _ := rules.ParseCandidate("e2e5")
	_, _ = h.svc.HumanMove(testCtx(t), c)

	first, err := h.svc.Reset(testCtx(t))
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	second, err := h.svc.Reset(testCtx(t))
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Snapshot{}, "Epoch")); diff != "" {
		t.Fatalf("second reset differs (-first +second):\n%s", diff)
	}
	if first.Phase != PhaseSetup || len(first.History) != 0 || len(first.Errors) != 0 {
		t.Fatalf("reset left state behind: %+v", first)
	}
	if first.FEN != rules.Initial().FEN() {
		t.Fatalf("fen = %s", first.FEN)
	}
}

func TestEngineVsEngineRejectsHumanMoves(t *testing.T) {
	h := startService(t, nil)
	h.move(t, "e2e4")
	h.setPrefs(t, func(p *domain.Preferences) { p.Mode = domain.ModeAIVsAI })

	for _, mv := range []string{"e7e5", "d2d4"} {
		c, _ := rules.ParseCandidate(mv)
		res, err := h.svc.HumanMove(testCtx(t), c)
		if !errors.Is(err, ErrHumanInputDisabled) {
			t.Fatalf("%s: err = %v, want ErrHumanInputDisabled", mv, err)
		}
		if len(res.Snapshot.History) != 1 {
			t.Fatalf("%s: history = %v", mv, res.Snapshot.History)
		}
	}
}

func TestVsAIRejectsMovesOnEngineTurn(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.Black, AIDifficulty: 1}))
	c, _ := rules.ParseCandidate("e2e4")
	_, err := h.svc.HumanMove(testCtx(t), c)
	if !errors.Is(err, ErrNotHumanTurn) {
		t.Fatalf("err = %v, want ErrNotHumanTurn", err)
	}
}

func TestAutoPlayRequiresEngineVsEngine(t *testing.T) {
	h := startService(t, nil)
	if _, err := h.svc.SetAutoPlay(testCtx(t), true); !errors.Is(err, ErrAutoPlayUnavailable) {
		t.Fatalf("err = %v, want ErrAutoPlayUnavailable", err)
	}
}

func TestVsAIPlaysEngineReply(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.White, AIDifficulty: 3}))
	snap := h.move(t, "e2e4").Snapshot
	if !snap.AIPending || snap.TurnOwner != domain.TurnAI {
		t.Fatalf("engine turn not scheduled: %+v", snap)
	}
	if h.analyzer.requestCount() != 0 {
		t.Fatalf("request sent before the pacing delay")
	}

	h.clock.Advance(defaultVsAIDelay)
	req := h.analyzer.waitRequest(t, 1)
	if req.Difficulty != 3 || req.FEN != snap.FEN {
		t.Fatalf("request = %+v", req)
	}
	req.Settle(analysis.Result{Move: "e7e5"})

	got := h.waitFor(t, "engine reply", func(s Snapshot) bool { return len(s.History) == 2 })
	if diff := cmp.Diff([]string{"e4", "e5"}, got.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if got.Stats.AppliedAIMoves != 1 || got.AIPending || got.TurnOwner != domain.TurnHuman {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestUndoDiscardsInFlightEngineReply(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.White, AIDifficulty: 1}))
	h.move(t, "e2e4")
	h.clock.Advance(defaultVsAIDelay)
	h.analyzer.waitRequest(t, 1).Settle(analysis.Result{Move: "e7e5"})
	h.waitFor(t, "first reply", func(s Snapshot) bool { return len(s.History) == 2 })

	h.move(t, "g1f3")
	h.clock.Advance(defaultVsAIDelay)
	inFlight := h.analyzer.waitRequest(t, 2)

	snap, err := h.svc.Undo(testCtx(t))
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if diff := cmp.Diff([]string{"e4", "e5"}, snap.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	inFlight.Settle(analysis.Result{Move: "b8c6"})
	got := h.waitFor(t, "discard", func(s Snapshot) bool { return s.Stats.DiscardedAIMoves == 1 })
	if diff := cmp.Diff([]string{"e4", "e5"}, got.History); diff != "" {
		t.Fatalf("stale reply applied (-want +got):\n%s", diff)
	}
	if got.FEN != replayFEN(t, got.History) {
		t.Fatalf("fen = %s", got.FEN)
	}
}

func TestReplyForOldPositionIsDiscarded(t *testing.T) {
	h := startService(t, nil)
	h.setPrefs(t, func(p *domain.Preferences) { p.Mode = domain.ModeAIVsAI })
	if _, err := h.svc.SetAutoPlay(testCtx(t), true); err != nil {
		t.Fatalf("SetAutoPlay: %v", err)
	}
	h.clock.Advance(defaultAIVsAIDelay)
	req := h.analyzer.waitRequest(t, 1)

	snap := h.setPrefs(t, func(p *domain.Preferences) { p.Mode = domain.ModeLocal })
	if snap.AutoPlay {
		t.Fatalf("auto-play survived leaving engine-vs-engine mode")
	}
	h.move(t, "e2e4")

	req.Settle(analysis.Result{Move: "d2d4"})
	got := h.waitFor(t, "discard", func(s Snapshot) bool { return s.Stats.DiscardedAIMoves == 1 })
	if diff := cmp.Diff([]string{"e4"}, got.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleResultIsDiscarded(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.White, AIDifficulty: 1}))
	h.move(t, "e2e4")
	h.clock.Advance(defaultVsAIDelay)
	h.analyzer.waitRequest(t, 1).Settle(analysis.Result{Move: "e7e5", Stale: true})

	got := h.waitFor(t, "discard", func(s Snapshot) bool { return s.Stats.DiscardedAIMoves == 1 })
	if len(got.History) != 1 {
		t.Fatalf("history = %v", got.History)
	}
}

func TestEngineVsEngineAlternatesDifficulty(t *testing.T) {
	h := startService(t, nil)
	h.setPrefs(t, func(p *domain.Preferences) {
		p.Mode = domain.ModeAIVsAI
		p.WhiteAIDifficulty = 0
		p.BlackAIDifficulty = 4
	})
	if _, err := h.svc.SetAutoPlay(testCtx(t), true); err != nil {
		t.Fatalf("SetAutoPlay: %v", err)
	}

	h.clock.Advance(defaultAIVsAIDelay)
	first := h.analyzer.waitRequest(t, 1)
	if first.Difficulty != 0 {
		t.Fatalf("white difficulty = %d", first.Difficulty)
	}
	first.Settle(analysis.Result{Move: "e2e4"})
	h.waitFor(t, "white move", func(s Snapshot) bool { return len(s.History) == 1 })

	h.clock.Advance(defaultAIVsAIDelay)
	second := h.analyzer.waitRequest(t, 2)
	if second.Difficulty != 4 {
		t.Fatalf("black difficulty = %d", second.Difficulty)
	}
}

func TestCheckmateStopsAutoPlay(t *testing.T) {
	h := startService(t, nil)
	for _, mv := range []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6"} {
		h.move(t, mv)
	}
	h.setPrefs(t, func(p *domain.Preferences) { p.Mode = domain.ModeAIVsAI })
	if _, err := h.svc.SetAutoPlay(testCtx(t), true); err != nil {
		t.Fatalf("SetAutoPlay: %v", err)
	}
	stopsBefore := h.analyzer.stopCount()

	h.clock.Advance(defaultAIVsAIDelay)
	h.analyzer.waitRequest(t, 1).Settle(analysis.Result{Move: "h5f7"})

	got := h.waitFor(t, "mate", func(s Snapshot) bool { return s.Phase == PhaseTerminal })
	if got.AutoPlay || got.AIPending {
		t.Fatalf("engine still active after mate: %+v", got)
	}
	if got.Result.Kind != rules.Checkmate {
		t.Fatalf("result = %+v", got.Result)
	}
	if h.analyzer.stopCount() <= stopsBefore {
		t.Fatalf("analysis not stopped on game over")
	}

	h.clock.Advance(time.Second)
	if n := h.analyzer.requestCount(); n != 1 {
		t.Fatalf("requests after mate = %d, want 1", n)
	}
	if _, err := h.svc.SetAutoPlay(testCtx(t), true); err != nil {
		t.Fatalf("SetAutoPlay on finished game: %v", err)
	}
	if snap := h.snapshot(t); snap.AutoPlay {
		t.Fatalf("auto-play re-enabled on a finished game")
	}
}

func TestIllegalEngineMoveIsRecorded(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.White, AIDifficulty: 1}))
	h.move(t, "e2e4")
	h.clock.Advance(defaultVsAIDelay)
	h.analyzer.waitRequest(t, 1).Settle(analysis.Result{Move: "e7e4"})

	got := h.waitFor(t, "rejection", func(s Snapshot) bool { return len(s.Errors) == 1 })
	if got.Errors[0].Kind != SourceRulesOracle || !strings.Contains(got.Errors[0].Message, "e7e4") {
		t.Fatalf("record = %+v", got.Errors[0])
	}
	if len(got.History) != 1 {
		t.Fatalf("history = %v", got.History)
	}
}

func TestEngineNotReadySkipsScheduling(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.Black, AIDifficulty: 1}))
	h.analyzer.mu.Lock()
	h.analyzer.ready = false
	h.analyzer.mu.Unlock()

	snap, err := h.svc.Reset(testCtx(t))
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if snap.AIPending || snap.EngineReady {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestEngineFailureIsRecorded(t *testing.T) {
	h := startService(t, nil)
	h.svc.OnFailure(errors.New("pipe closed"))
	got := h.waitFor(t, "engine failure", func(s Snapshot) bool { return len(s.Errors) == 1 })
	if got.Errors[0].Kind != SourceAnalysisEngine || !strings.Contains(got.Errors[0].Message, "pipe closed") {
		t.Fatalf("record = %+v", got.Errors[0])
	}
}

func TestEvaluationForOtherPositionIgnored(t *testing.T) {
	h := startService(t, nil)
	snap := h.move(t, "e2e4").Snapshot
	cp := 35

	h.svc.OnEvaluation(analysis.Evaluation{FEN: rules.Initial().FEN(), ScoreCP: &cp, Depth: 12})
	h.svc.OnEvaluation(analysis.Evaluation{FEN: snap.FEN, ScoreCP: &cp, Depth: 9})

	got := h.waitFor(t, "evaluation", func(s Snapshot) bool { return s.Evaluation.Depth != 0 })
	if got.Evaluation.Depth != 9 || got.Evaluation.FEN != snap.FEN {
		t.Fatalf("evaluation = %+v", got.Evaluation)
	}
}

// panicRules blows up on every move.
type panicRules struct{ rules.Oracle }

func (panicRules) Apply(rules.Position, rules.Candidate) (rules.Position, string, error) {
	panic("boom")
}

func TestPanicIsRecordedAndStateKept(t *testing.T) {
	h := startService(t, panicRules{})
	c, _ := rules.ParseCandidate("e2e4")
	res, err := h.svc.HumanMove(testCtx(t), c)
	if KindOf(err) != KindUnknown || err == nil {
		t.Fatalf("err = %v", err)
	}
	if len(res.Snapshot.Errors) != 1 || res.Snapshot.Errors[0].Kind != SourceUnknown {
		t.Fatalf("errors = %+v", res.Snapshot.Errors)
	}
	if snap := h.snapshot(t); snap.FEN != rules.Initial().FEN() {
		t.Fatalf("fen = %s", snap.FEN)
	}
}

func TestStartMovesOutOfSetup(t *testing.T) {
	h := startService(t, nil)
	if snap := h.snapshot(t); snap.Phase != PhaseSetup {
		t.Fatalf("phase = %s", snap.Phase)
	}
	snap, err := h.svc.Start(testCtx(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Phase != PhaseInProgress {
		t.Fatalf("phase = %s, want in_progress", snap.Phase)
	}
}

func TestUndoTurnReturnsToHumanMove(t *testing.T) {
	h := startService(t, nil, WithPreferences(domain.Preferences{Mode: domain.ModeVsAI, PlayerColor: domain.White, AIDifficulty: 1}))
	h.move(t, "e2e4")
	h.clock.Advance(defaultVsAIDelay)
	h.analyzer.waitRequest(t, 1).Settle(analysis.Result{Move: "e7e5"})
	h.waitFor(t, "reply", func(s Snapshot) bool { return len(s.History) == 2 })

	snap, err := h.svc.UndoTurn(testCtx(t))
	if err != nil {
		t.Fatalf("UndoTurn: %v", err)
	}
	if len(snap.History) != 0 || snap.TurnOwner != domain.TurnHuman {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPreferencesAreClampedAndStored(t *testing.T) {
	prefs := &memoryPrefs{}
	h := startService(t, nil, WithPreferenceStore(prefs))
	snap := h.setPrefs(t, func(p *domain.Preferences) {
		p.Mode = domain.ModeVsAI
		p.AIDifficulty = 99
		p.PlayerColor = "purple"
	})
	if snap.Preferences.AIDifficulty != 5 || snap.Preferences.PlayerColor != domain.White {
		t.Fatalf("preferences = %+v", snap.Preferences)
	}
	rec, err := prefs.Get(testCtx(t), "test-session")
	if err != nil || rec == nil {
		t.Fatalf("stored record = %v, %v", rec, err)
	}
	if diff := cmp.Diff(snap.Preferences, rec.Preferences); diff != "" {
		t.Fatalf("stored preferences mismatch (-snapshot +stored):\n%s", diff)
	}
}

func TestStoredPreferencesLoadedOnStart(t *testing.T) {
	prefs := &memoryPrefs{}
	stored := domain.DefaultPreferences()
	stored.Mode = domain.ModeAIVsAI
	stored.BlackAIDifficulty = 4
	_ = prefs.Save(testCtx(t), domain.SettingsRecord{SessionID: "test-session", Preferences: stored})

	h := startService(t, nil, WithPreferenceStore(prefs))
	snap := h.snapshot(t)
	if snap.Preferences.Mode != domain.ModeAIVsAI || snap.Preferences.BlackAIDifficulty != 4 {
		t.Fatalf("preferences = %+v", snap.Preferences)
	}
}
