package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Arena/internal/chess/openingbook"
	"github.com/park285/Cheese-Arena/internal/chess/rules"
	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/msgcat"
	"github.com/park285/Cheese-Arena/internal/service/game"
	"github.com/park285/Cheese-Arena/internal/service/settings"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
)

// Game is the slice of the game actor the HTTP layer drives.
type Game interface {
	Snapshot(ctx context.Context) (game.Snapshot, error)
	HumanMove(ctx context.Context, c rules.Candidate) (game.MoveResult, error)
	Undo(ctx context.Context) (game.Snapshot, error)
	UndoTurn(ctx context.Context) (game.Snapshot, error)
	Reset(ctx context.Context) (game.Snapshot, error)
	Start(ctx context.Context) (game.Snapshot, error)
	SetPreferences(ctx context.Context, p domain.Preferences) (game.Snapshot, error)
	SetAutoPlay(ctx context.Context, active bool) (game.Snapshot, error)
	Save(ctx context.Context) (game.Snapshot, error)
	Load(ctx context.Context) (game.Snapshot, error)
	ClearSaved(ctx context.Context) (game.Snapshot, error)
	ImportPGN(ctx context.Context, text string) (game.Snapshot, error)
	ExportPGN(ctx context.Context) (string, error)
}

// Openings names the line reached by a history.
type Openings interface {
	Lookup(history []string) (openingbook.Info, error)
}

// Engine re-runs the engine handshake.
type Engine interface {
	Start(ctx context.Context) error
}

type Deps struct {
	Game     Game
	Settings settings.Store
	Openings Openings
	Engine   Engine
	Catalog  *msgcat.Catalog
	Logger   *zap.Logger
}

const (
	maxJSONBodyBytes = 1 << 20
	requestTimeout   = 10 * time.Second
	engineTimeout    = 15 * time.Second
	apiCSP           = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
)

type Server struct {
	deps    Deps
	logger  *zap.Logger
	catalog *msgcat.Catalog

	srvMu  sync.Mutex
	srv    *fasthttp.Server
	closed bool
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = msgcat.Default()
	}
	return &Server{deps: deps, logger: logger, catalog: catalog}
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	srv := &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "cheese-arena",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       20 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxRequestBodySize: maxJSONBodyBytes,
	}
	s.srvMu.Lock()
	if s.closed {
		s.srvMu.Unlock()
		return nil
	}
	s.srv = srv
	s.srvMu.Unlock()

	s.logger.Info("http_listening", zap.String("addr", addr))
	return srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	s.closed = true
	srv := s.srv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.ShutdownWithContext(ctx)
}

// Handler routes every API request.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Content-Security-Policy", apiCSP)
		ctx.Response.Header.Set("Cross-Origin-Opener-Policy", "same-origin")
		ctx.SetContentType("application/json; charset=utf-8")
		if len(ctx.Request.Body()) > maxJSONBodyBytes {
			s.writeError(ctx, fasthttp.StatusRequestEntityTooLarge, "too_large", "request too large")
			return
		}

		path := string(ctx.Path())
		method := string(ctx.Method())
		switch {
		case path == "/healthz":
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString("ok")
		case strings.HasPrefix(path, "/api/settings"):
			s.routeSettings(ctx, method, path)
		case strings.HasPrefix(path, "/api/game"):
			s.routeGame(ctx, method, path)
		case path == "/api/engine/restart" && method == fasthttp.MethodPost:
			s.handleEngineRestart(ctx)
		default:
			s.writeError(ctx, fasthttp.StatusNotFound, "not_found", "no such route")
		}
	}
}

func (s *Server) routeGame(ctx *fasthttp.RequestCtx, method, path string) {
	type route struct{ method, path string }
	handlers := map[route]func(*fasthttp.RequestCtx){
		{fasthttp.MethodGet, "/api/game"}:              s.handleSnapshot,
		{fasthttp.MethodPost, "/api/game/move"}:        s.handleMove,
		{fasthttp.MethodPost, "/api/game/undo"}:        s.handleUndo,
		{fasthttp.MethodPost, "/api/game/reset"}:       s.simple(Game.Reset),
		{fasthttp.MethodPost, "/api/game/start"}:       s.simple(Game.Start),
		{fasthttp.MethodPost, "/api/game/save"}:        s.simple(Game.Save),
		{fasthttp.MethodPost, "/api/game/load"}:        s.simple(Game.Load),
		{fasthttp.MethodDelete, "/api/game/save"}:      s.simple(Game.ClearSaved),
		{fasthttp.MethodPost, "/api/game/autoplay"}:    s.handleAutoPlay,
		{fasthttp.MethodPost, "/api/game/preferences"}: s.handlePreferences,
		{fasthttp.MethodPost, "/api/game/pgn"}:         s.handleImportPGN,
		{fasthttp.MethodGet, "/api/game/pgn"}:          s.handleExportPGN,
		{fasthttp.MethodGet, "/api/game/opening"}:      s.handleOpening,
	}
	if h, ok := handlers[route{method, path}]; ok {
		h(ctx)
		return
	}
	for r := range handlers {
		if r.path == path {
			s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
	}
	s.writeError(ctx, fasthttp.StatusNotFound, "not_found", "no such route")
}

func (s *Server) routeSettings(ctx *fasthttp.RequestCtx, method, path string) {
	if s.deps.Settings == nil {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, "settings_unavailable", "settings store not configured")
		return
	}
	switch {
	case method == fasthttp.MethodPost && path == "/api/settings":
		s.handleSaveSettings(ctx)
	case method == fasthttp.MethodGet && strings.HasPrefix(path, "/api/settings/"):
		s.handleGetSettings(ctx, strings.TrimPrefix(path, "/api/settings/"))
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, "not_found", "no such route")
	}
}

func requestContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func (s *Server) simple(call func(Game, context.Context) (game.Snapshot, error)) func(*fasthttp.RequestCtx) {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext(requestTimeout)
		defer cancel()
		snap, err := call(s.deps.Game, rctx)
		s.respond(ctx, snap, err)
	}
}

func (s *Server) handleSnapshot(ctx *fasthttp.RequestCtx) {
	s.simple(Game.Snapshot)(ctx)
}

func (s *Server) handleMove(ctx *fasthttp.RequestCtx) {
	var body arenadto.MoveRequest
	if !s.decode(ctx, &body) {
		return
	}
	var (
		c   rules.Candidate
		err error
	)
	if strings.TrimSpace(body.Move) != "" {
		c, err = rules.ParseCandidate(body.Move)
	} else {
		c, err = rules.NewCandidate(body.From, body.To, body.Promotion)
	}
	if err != nil {
		s.badRequest(ctx, err.Error())
		return
	}

	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	res, err := s.deps.Game.HumanMove(rctx, c)
	if err != nil {
		s.writeGameError(ctx, err, &res.Snapshot)
		return
	}
	writeJSON(ctx, res)
}

func (s *Server) handleUndo(ctx *fasthttp.RequestCtx) {
	turn := string(ctx.QueryArgs().Peek("turn"))
	if turn == "1" || strings.EqualFold(turn, "true") {
		s.simple(Game.UndoTurn)(ctx)
		return
	}
	s.simple(Game.Undo)(ctx)
}

func (s *Server) handleAutoPlay(ctx *fasthttp.RequestCtx) {
	var body arenadto.AutoPlayRequest
	if !s.decode(ctx, &body) {
		return
	}
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	snap, err := s.deps.Game.SetAutoPlay(rctx, body.Active)
	s.respond(ctx, snap, err)
}

// handlePreferences applies a partial update: fields the body leaves out
// keep their current values.
func (s *Server) handlePreferences(ctx *fasthttp.RequestCtx) {
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	current, err := s.deps.Game.Snapshot(rctx)
	if err != nil {
		s.writeGameError(ctx, err, nil)
		return
	}
	body := settings.ToDTO(current.Preferences)
	if !s.decode(ctx, &body) {
		return
	}
	snap, err := s.deps.Game.SetPreferences(rctx, settings.FromDTO(body))
	s.respond(ctx, snap, err)
}

func (s *Server) handleImportPGN(ctx *fasthttp.RequestCtx) {
	var body arenadto.PGN
	if !s.decode(ctx, &body) {
		return
	}
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	snap, err := s.deps.Game.ImportPGN(rctx, body.PGN)
	s.respond(ctx, snap, err)
}

func (s *Server) handleExportPGN(ctx *fasthttp.RequestCtx) {
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	text, err := s.deps.Game.ExportPGN(rctx)
	if err != nil {
		s.writeGameError(ctx, err, nil)
		return
	}
	writeJSON(ctx, arenadto.PGN{PGN: text})
}

func (s *Server) handleOpening(ctx *fasthttp.RequestCtx) {
	if s.deps.Openings == nil {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, "opening_unavailable", "opening book not configured")
		return
	}
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	snap, err := s.deps.Game.Snapshot(rctx)
	if err != nil {
		s.writeGameError(ctx, err, nil)
		return
	}
	info, err := s.deps.Openings.Lookup(snap.History)
	if err != nil {
		// loaded or imported games may not replay from the standard start
		s.logger.Debug("http_opening_lookup_failed", zap.Error(err))
		writeJSON(ctx, arenadto.Opening{Moves: []arenadto.BookMove{}})
		return
	}
	out := arenadto.Opening{Code: info.Code, Title: info.Title, Moves: make([]arenadto.BookMove, 0, len(info.Moves))}
	for _, mv := range info.Moves {
		out.Moves = append(out.Moves, arenadto.BookMove{Move: mv.UCI, Weight: int(mv.Weight)})
	}
	writeJSON(ctx, out)
}

func (s *Server) handleEngineRestart(ctx *fasthttp.RequestCtx) {
	if s.deps.Engine == nil {
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, "engine_unavailable", "no analysis engine configured")
		return
	}
	rctx, cancel := requestContext(engineTimeout)
	defer cancel()
	if err := s.deps.Engine.Start(rctx); err != nil {
		s.logger.Warn("http_engine_restart_failed", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusBadGateway, "engine_failed", err.Error())
		return
	}
	snap, err := s.deps.Game.Snapshot(rctx)
	s.respond(ctx, snap, err)
}

func (s *Server) handleGetSettings(ctx *fasthttp.RequestCtx, sessionID string) {
	if !settings.ValidSessionID(sessionID) {
		s.badRequest(ctx, "invalid session id")
		return
	}
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	rec, err := s.deps.Settings.Get(rctx, sessionID)
	if err != nil {
		s.logger.Warn("http_settings_get_failed", zap.String("session_id", sessionID), zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "internal", s.catalog.RenderOr("http.internal", nil, "internal error"))
		return
	}
	if rec == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		writeJSON(ctx, arenadto.Message{Message: s.catalog.RenderOr("http.not_found", nil, "Settings not found")})
		return
	}
	writeJSON(ctx, arenadto.Settings{SessionID: rec.SessionID, Preferences: settings.ToDTO(rec.Preferences)})
}

func (s *Server) handleSaveSettings(ctx *fasthttp.RequestCtx) {
	body := arenadto.Settings{Preferences: settings.DefaultDTO()}
	if !s.decode(ctx, &body) {
		return
	}
	if !settings.ValidSessionID(body.SessionID) {
		s.badRequest(ctx, "invalid session id")
		return
	}
	rec := domain.SettingsRecord{SessionID: body.SessionID, Preferences: settings.FromDTO(body.Preferences), UpdatedAt: time.Now()}
	rctx, cancel := requestContext(requestTimeout)
	defer cancel()
	if err := s.deps.Settings.Save(rctx, rec); err != nil {
		s.logger.Warn("http_settings_save_failed", zap.String("session_id", body.SessionID), zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "internal", s.catalog.RenderOr("http.internal", nil, "internal error"))
		return
	}
	writeJSON(ctx, arenadto.Settings{SessionID: rec.SessionID, Preferences: settings.ToDTO(rec.Preferences)})
}

// ---- helpers ----

func (s *Server) decode(ctx *fasthttp.RequestCtx, out any) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		s.badRequest(ctx, "empty body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.badRequest(ctx, "invalid json")
		return false
	}
	return true
}

func (s *Server) respond(ctx *fasthttp.RequestCtx, snap game.Snapshot, err error) {
	if err != nil {
		s.writeGameError(ctx, err, &snap)
		return
	}
	writeJSON(ctx, snap)
}

func (s *Server) badRequest(ctx *fasthttp.RequestCtx, reason string) {
	msg := s.catalog.RenderOr("http.bad_request", map[string]any{"Reason": reason}, reason)
	s.writeError(ctx, fasthttp.StatusBadRequest, "bad_request", msg)
}

// writeGameError maps game errors onto status codes. The snapshot, when
// there is one, rides along so clients can redraw.
func (s *Server) writeGameError(ctx *fasthttp.RequestCtx, err error, snap *game.Snapshot) {
	status, code, msg := s.classify(err)
	if status >= 500 {
		s.logger.Warn("http_game_request_failed", zap.String("path", string(ctx.Path())), zap.Error(err))
	}
	ctx.SetStatusCode(status)
	payload := struct {
		arenadto.Error
		Snapshot *game.Snapshot `json:"snapshot,omitempty"`
	}{Error: arenadto.Error{Error: code, Message: msg}}
	if snap != nil && snap.FEN != "" {
		payload.Snapshot = snap
	}
	writeJSON(ctx, payload)
}

func (s *Server) classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, game.ErrHumanInputDisabled):
		return fasthttp.StatusConflict, "human_input_disabled", s.catalog.RenderOr("http.human_input_disabled", nil, err.Error())
	case errors.Is(err, game.ErrNotHumanTurn):
		return fasthttp.StatusConflict, "not_human_turn", s.catalog.RenderOr("http.not_human_turn", nil, err.Error())
	case errors.Is(err, game.ErrAutoPlayUnavailable):
		return fasthttp.StatusConflict, "autoplay_unavailable", err.Error()
	case errors.Is(err, game.ErrNoSavedGame):
		return fasthttp.StatusNotFound, "no_saved_game", err.Error()
	case errors.Is(err, game.ErrNoSnapshotStore):
		return fasthttp.StatusServiceUnavailable, "snapshot_unavailable", err.Error()
	case errors.Is(err, game.ErrServiceStopped):
		return fasthttp.StatusServiceUnavailable, "service_stopped", s.catalog.RenderOr("http.service_stopped", nil, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout, "timeout", err.Error()
	}
	switch game.KindOf(err) {
	case game.KindRulesViolation:
		return fasthttp.StatusUnprocessableEntity, "rules_violation", err.Error()
	case game.KindPersistenceFailure:
		return fasthttp.StatusInternalServerError, "persistence_failure", err.Error()
	}
	return fasthttp.StatusInternalServerError, "internal", s.catalog.RenderOr("http.internal", nil, "internal error")
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	enc := json.NewEncoder(ctx)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, code, msg string) {
	ctx.SetStatusCode(status)
	writeJSON(ctx, arenadto.Error{Error: code, Message: msg})
}
