package game

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess"
	"github.com/park285/Cheese-Arena/internal/chess/analysis"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/msgcat"
)

// Rules is the subset of the rules oracle the game needs.
type Rules interface {
	Apply(pos rules.Position, c rules.Candidate) (rules.Position, string, error)
	Classify(pos rules.Position) rules.Result
	Replay(history []string) (rules.Position, error)
	UndoPly(pos rules.Position) (rules.Position, bool)
	ParsePGN(text string) (rules.Imported, error)
	ExportPGN(pos rules.Position, tags map[string]string) (string, error)
}

// Analyzer is the engine side: background evaluation and move requests.
type Analyzer interface {
	Analyze(fen string) error
	RequestBestMove(fen string, difficulty int) *analysis.Request
	Stop() error
	NewGame() error
	Ready() bool
}

// GameStore persists game snapshots by session.
type GameStore interface {
	Save(ctx context.Context, sessionID string, rec domain.GameRecord) error
	Load(ctx context.Context, sessionID string) (*domain.GameRecord, error)
	Delete(ctx context.Context, sessionID string) error
}

// PreferenceStore persists user preferences by session.
type PreferenceStore interface {
	Get(ctx context.Context, sessionID string) (*domain.SettingsRecord, error)
	Save(ctx context.Context, rec domain.SettingsRecord) error
}

type Delays struct {
	VsAI   time.Duration
	AIVsAI time.Duration
}

const (
	defaultVsAIDelay        = 600 * time.Millisecond
	defaultAIVsAIDelay      = 500 * time.Millisecond
	defaultAutosaveInterval = 30 * time.Second
	persistTimeout          = 3 * time.Second
	internalBuffer          = 128
)

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithPreferences(p domain.Preferences) Option {
	return func(s *Service) { s.prefs = normalizePreferences(p) }
}

func WithGameStore(store GameStore) Option {
	return func(s *Service) { s.games = store }
}

func WithPreferenceStore(store PreferenceStore) Option {
	return func(s *Service) { s.settings = store }
}

func WithSessionID(id string) Option {
	return func(s *Service) { s.sessionID = id }
}

// WithDelays sets the pacing delays. Zero fields keep their defaults.
func WithDelays(d Delays) Option {
	return func(s *Service) {
		if d.VsAI > 0 {
			s.delays.VsAI = d.VsAI
		}
		if d.AIVsAI > 0 {
			s.delays.AIVsAI = d.AIVsAI
		}
	}
}

// WithAutosaveInterval sets the autosave period; zero or less disables it.
func WithAutosaveInterval(d time.Duration) Option {
	return func(s *Service) { s.autosaveEvery = d }
}

func WithCatalog(c *msgcat.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithLoadOnStart restores the saved game once when Run begins.
func WithLoadOnStart(on bool) Option {
	return func(s *Service) { s.loadOnStart = on }
}

// Service is the game actor. All state below the channels is owned by
// the Run goroutine.
type Service struct {
	rules    Rules
	analyzer Analyzer
	games    GameStore
	settings PreferenceStore
	logger   *zap.Logger
	clock    Clock
	catalog  *msgcat.Catalog

	sessionID     string
	delays        Delays
	autosaveEvery time.Duration
	loadOnStart   bool

	commands chan event
	internal chan event
	done     chan struct{}
	running  atomic.Bool
	runCtx   context.Context

	pos        rules.Position
	history    []string
	prefs      domain.Preferences
	autoPlay   bool
	started    bool
	gameOver   bool
	epoch      uint64
	evaluation analysis.Evaluation
	errors     ErrorLog
	stats      Stats

	resultEpoch  uint64
	resultValid  bool
	cachedResult rules.Result

	pendingAI     *aiTurn
	aiSeq         uint64
	autosaveTimer Timer
}

// New builds a service. analyzer may be nil, in which case no engine
// features are available.
func New(oracle Rules, analyzer Analyzer, opts ...Option) (*Service, error) {
	if oracle == nil {
		return nil, fmt.Errorf("rules oracle required")
	}
	s := &Service{
		rules:         oracle,
		analyzer:      analyzer,
		logger:        zap.NewNop(),
		clock:         realClock{},
		delays:        Delays{VsAI: defaultVsAIDelay, AIVsAI: defaultAIVsAIDelay},
		autosaveEvery: defaultAutosaveInterval,
		commands:      make(chan event),
		internal:      make(chan event, internalBuffer),
		done:          make(chan struct{}),
		pos:           rules.Initial(),
		prefs:         domain.DefaultPreferences(),
		runCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		if c, err := msgcat.New(""); err == nil {
			s.catalog = c
		}
	}
	s.evaluation = analysis.Evaluation{FEN: s.pos.FEN()}
	return s, nil
}

// Run processes events until ctx is cancelled. It may be called once.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("game service already running")
	}
	defer close(s.done)
	s.runCtx = ctx

	s.bootstrap(ctx)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.commands:
			s.dispatch(ev)
		case ev := <-s.internal:
			s.dispatch(ev)
		}
	}
}

// Done is closed once Run has returned.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) bootstrap(ctx context.Context) {
	if s.settings != nil {
		s.loadPreferences(ctx)
	}
	if s.loadOnStart && s.games != nil {
		s.loadGame(ctx, true)
	}
	s.scheduleAutosave()
	s.requestAnalysis()
	s.afterEvent()
	s.logger.Info("game_service_started",
		zap.String("session_id", s.sessionID),
		zap.String("mode", string(s.prefs.Mode)),
		zap.Int("plies", len(s.history)),
	)
}

func (s *Service) shutdown() {
	if s.autosaveTimer != nil {
		s.autosaveTimer.Stop()
	}
	s.cancelPendingAI()
	s.logger.Info("game_service_stopped", zap.String("session_id", s.sessionID))
}

// dispatch runs one event. A panic is recorded and the actor carries on
// with its last good state.
func (s *Service) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			err := newError(KindUnknown, ev.name(), fmt.Errorf("panic: %v", r))
			s.record(err, "errors.unknown", nil)
			if rp, ok := ev.(replier); ok {
				rp.respond(reply{snapshot: s.snapshot(), err: err})
			}
		}
	}()

	r := s.handle(ev)
	s.afterEvent()
	if rp, ok := ev.(replier); ok {
		r.snapshot = s.snapshot()
		rp.respond(r)
	}
}

func (s *Service) handle(ev event) reply {
	switch e := ev.(type) {
	case humanMoveCmd:
		return s.onHumanMove(e.candidate)
	case undoCmd:
		if e.toHumanTurn {
			s.undoTurn()
		} else {
			s.reconstruct()
		}
	case resetCmd:
		s.reset()
	case startCmd:
		if !s.result().Terminal() {
			s.started = true
		}
	case setPreferencesCmd:
		s.setPreferences(e.prefs)
	case setAutoPlayCmd:
		return reply{err: s.setAutoPlay(e.active)}
	case saveCmd:
		return reply{err: s.saveGame("save")}
	case loadCmd:
		return reply{err: s.loadGame(s.runCtx, false)}
	case clearSaveCmd:
		return reply{err: s.clearSavedGame()}
	case importPGNCmd:
		return reply{err: s.importPGN(e.text)}
	case exportPGNCmd:
		text, err := s.exportPGN()
		return reply{text: text, err: err}
	case snapshotCmd:
	case aiDelayElapsed:
		s.onAIDelay(e.turn)
	case aiMoveComputed:
		s.onAIMove(e.turn, e.result)
	case evaluationUpdated:
		if e.evaluation.FEN == s.pos.FEN() {
			s.evaluation = e.evaluation
		}
	case engineReady:
		s.logger.Info("game_engine_ready")
		s.requestAnalysis()
	case engineFailed:
		s.record(newError(KindEngineCommunicationFailure, "engine", e.err), "errors.engine_failure", nil)
	case autosaveTick:
		s.onAutosave()
	default:
		s.logger.Warn("game_unknown_event", zap.String("event", ev.name()))
	}
	return reply{}
}

// afterEvent enforces the terminal rules and re-evaluates AI scheduling
// after every event.
func (s *Service) afterEvent() {
	if s.result().Terminal() {
		if !s.gameOver {
			s.gameOver = true
			s.autoPlay = false
			s.stopAnalysis()
			res := s.result()
			s.logger.Info("game_over",
				zap.String("result", string(res.Kind)),
				zap.String("winner", string(res.Winner)),
				zap.Int("plies", len(s.history)),
			)
		}
		s.autoPlay = false
	} else {
		s.gameOver = false
	}
	s.maybeScheduleAI()
}

func (s *Service) onHumanMove(c rules.Candidate) reply {
	switch s.prefs.Mode {
	case domain.ModeAIVsAI:
		return reply{err: ErrHumanInputDisabled}
	case domain.ModeVsAI:
		if domain.OwnerOf(s.prefs.Mode, s.pos.SideToMove(), s.prefs.PlayerColor) != domain.TurnHuman {
			return reply{err: ErrNotHumanTurn}
		}
	}

	next, san, applied, err := applyMove(s.rules, s.pos, c)
	if err != nil {
		ge := newError(KindRulesViolation, "humanMove", err)
		s.record(ge, "errors.illegal_move", map[string]any{"Move": c.UCI(), "Reason": reasonOf(err)})
		return reply{err: ge}
	}
	if !applied {
		return reply{}
	}
	s.started = true
	s.commit(next, appendHistory(s.history, san))
	s.logger.Debug("game_move_applied", zap.String("by", "human"), zap.String("san", san), zap.String("fen", next.FEN()))
	return reply{applied: true, san: san}
}

func (s *Service) reset() {
	s.cancelPendingAI()
	s.stopAnalysis()
	if s.analyzer != nil {
		if err := s.analyzer.NewGame(); err != nil && !errors.Is(err, analysis.ErrNotReady) {
			s.logger.Warn("game_engine_newgame_failed", zap.Error(err))
		}
	}
	s.errors.Clear()
	s.autoPlay = false
	s.started = false
	s.commit(rules.Initial(), nil)
	s.logger.Info("game_reset", zap.String("session_id", s.sessionID))
}

func (s *Service) setPreferences(p domain.Preferences) {
	p = normalizePreferences(p)
	prev := s.prefs
	s.prefs = p
	if p.Mode != domain.ModeAIVsAI {
		s.autoPlay = false
	}
	s.epoch++
	if prev.Mode != p.Mode {
		s.logger.Info("game_mode_changed", zap.String("from", string(prev.Mode)), zap.String("to", string(p.Mode)))
	}
	s.savePreferences()
}

func (s *Service) setAutoPlay(active bool) error {
	if active && s.prefs.Mode != domain.ModeAIVsAI {
		return ErrAutoPlayUnavailable
	}
	if active && s.result().Terminal() {
		return nil
	}
	if s.autoPlay == active {
		return nil
	}
	s.autoPlay = active
	if active {
		s.started = true
	}
	s.epoch++
	return nil
}

// commit swaps in a new position and history and invalidates anything
// keyed to the previous state.
func (s *Service) commit(pos rules.Position, history []string) {
	s.pos = pos
	s.history = history
	s.epoch++
	s.evaluation = analysis.Evaluation{FEN: pos.FEN()}
	if !s.result().Terminal() {
		s.requestAnalysis()
	}
}

func (s *Service) requestAnalysis() {
	if s.analyzer == nil || !s.analyzer.Ready() || s.result().Terminal() {
		return
	}
	if err := s.analyzer.Analyze(s.pos.FEN()); err != nil && !errors.Is(err, analysis.ErrNotReady) {
		s.logger.Debug("game_analyze_failed", zap.Error(err))
	}
}

func (s *Service) stopAnalysis() {
	if s.analyzer == nil {
		return
	}
	if err := s.analyzer.Stop(); err != nil {
		s.logger.Debug("game_stop_failed", zap.Error(err))
	}
}

// result classifies the current position once per epoch.
func (s *Service) result() rules.Result {
	if !s.resultValid || s.resultEpoch != s.epoch {
		s.cachedResult = s.rules.Classify(s.pos)
		s.resultEpoch = s.epoch
		s.resultValid = true
	}
	return s.cachedResult
}

func (s *Service) phase() Phase {
	switch {
	case s.result().Terminal():
		return PhaseTerminal
	case s.started || len(s.history) > 0:
		return PhaseInProgress
	default:
		return PhaseSetup
	}
}

func (s *Service) snapshot() Snapshot {
	side := s.pos.SideToMove()
	engineReady := s.analyzer != nil && s.analyzer.Ready()
	return Snapshot{
		SessionID:   s.sessionID,
		FEN:         s.pos.FEN(),
		History:     append([]string{}, s.history...),
		Phase:       s.phase(),
		Result:      s.result(),
		SideToMove:  side,
		TurnOwner:   domain.OwnerOf(s.prefs.Mode, side, s.prefs.PlayerColor),
		Preferences: s.prefs,
		AutoPlay:    s.autoPlay,
		EngineReady: engineReady,
		AIPending:   s.pendingAI != nil,
		Evaluation:  s.evaluation.Clone(),
		Errors:      s.errors.Records(),
		Epoch:       s.epoch,
		Stats:       s.stats,
	}
}

// record logs err and appends it to the error log. key selects the
// catalog message; the raw error text is the fallback.
func (s *Service) record(err *Error, key string, data map[string]any) {
	msg := err.Error()
	if key != "" {
		if data == nil {
			data = map[string]any{}
		}
		if _, ok := data["Reason"]; !ok {
			data["Reason"] = reasonOf(err.Err)
		}
		if _, ok := data["Op"]; !ok {
			data["Op"] = err.Op
		}
		msg = s.catalog.RenderOr(key, data, msg)
	}
	s.errors.Add(ErrorRecord{Kind: err.Kind.Source(), Message: msg, Timestamp: s.clock.Now()})
	s.logger.Warn("game_error_recorded",
		zap.String("kind", err.Kind.String()),
		zap.String("op", err.Op),
		zap.Error(err.Err),
	)
}

func reasonOf(err error) string {
	if err == nil {
		return "unknown"
	}
	var ime *rules.IllegalMoveError
	if errors.As(err, &ime) && ime.Reason != "" {
		return ime.Reason
	}
	return err.Error()
}

func appendHistory(history []string, san string) []string {
	out := make([]string, len(history), len(history)+1)
	copy(out, history)
	return append(out, san)
}

func normalizePreferences(p domain.Preferences) domain.Preferences {
	p = p.Normalize()
	p.AIDifficulty = chess.ClampDifficulty(p.AIDifficulty)
	p.WhiteAIDifficulty = chess.ClampDifficulty(p.WhiteAIDifficulty)
	p.BlackAIDifficulty = chess.ClampDifficulty(p.BlackAIDifficulty)
	return p
}

// post delivers an internal event without ever blocking the caller,
// which may be the actor itself (listener callbacks fire synchronously
// on send failures).
func (s *Service) post(ev event) {
	select {
	case s.internal <- ev:
		return
	case <-s.done:
		return
	default:
	}
	go func() {
		select {
		case s.internal <- ev:
		case <-s.done:
		}
	}()
}

// OnEvaluation, OnReady and OnFailure let the service listen to the
// analysis coordinator.
func (s *Service) OnEvaluation(e analysis.Evaluation) { s.post(evaluationUpdated{evaluation: e}) }
func (s *Service) OnReady()                           { s.post(engineReady{}) }
func (s *Service) OnFailure(err error)                { s.post(engineFailed{err: err}) }

func (s *Service) call(ctx context.Context, ev event, c command) (reply, error) {
	select {
	case s.commands <- ev:
	case <-s.done:
		return reply{}, ErrServiceStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-c.replyTo:
		return r, r.err
	case <-s.done:
		return reply{}, ErrServiceStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// HumanMove plays a move for the human side. A move on a finished game
// is ignored and reported with Applied=false.
func (s *Service) HumanMove(ctx context.Context, c rules.Candidate) (MoveResult, error) {
	cmd := humanMoveCmd{command: newCommand(), candidate: c}
	r, err := s.call(ctx, cmd, cmd.command)
	return MoveResult{Applied: r.applied, SAN: r.san, Snapshot: r.snapshot}, err
}

func (s *Service) Undo(ctx context.Context) (Snapshot, error) {
	cmd := undoCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

// UndoTurn steps back until the human is to move again.
func (s *Service) UndoTurn(ctx context.Context) (Snapshot, error) {
	cmd := undoCmd{command: newCommand(), toHumanTurn: true}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) Reset(ctx context.Context) (Snapshot, error) {
	cmd := resetCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) Start(ctx context.Context) (Snapshot, error) {
	cmd := startCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) SetPreferences(ctx context.Context, p domain.Preferences) (Snapshot, error) {
	cmd := setPreferencesCmd{command: newCommand(), prefs: p}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) SetAutoPlay(ctx context.Context, active bool) (Snapshot, error) {
	cmd := setAutoPlayCmd{command: newCommand(), active: active}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) Save(ctx context.Context) (Snapshot, error) {
	cmd := saveCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	cmd := loadCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) ClearSaved(ctx context.Context) (Snapshot, error) {
	cmd := clearSaveCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) ImportPGN(ctx context.Context, text string) (Snapshot, error) {
	cmd := importPGNCmd{command: newCommand(), text: text}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}

func (s *Service) ExportPGN(ctx context.Context) (string, error) {
	cmd := exportPGNCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.text, err
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	cmd := snapshotCmd{command: newCommand()}
	r, err := s.call(ctx, cmd, cmd.command)
	return r.snapshot, err
}
