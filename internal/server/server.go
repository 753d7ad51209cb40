package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"chronocards/internal/game"
	"chronocards/internal/obslog"
	"chronocards/internal/render"
	"chronocards/internal/results"
	"chronocards/internal/store"
)

const requestTimeout = 10 * time.Second

// Server is the JSON API surface. Clients poll GET endpoints for state;
// there is no push channel.
type Server struct {
	mgr      *game.Manager
	renderer render.TimelineRenderer
	results  *results.Repository
}

// New wires the API. results may be nil when no database is configured.
func New(mgr *game.Manager, renderer render.TimelineRenderer, res *results.Repository) *Server {
	return &Server{mgr: mgr, renderer: renderer, results: res}
}

func (s *Server) Router() *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		obslog.L().Error("http_panic", zap.String("path", r.URL.Path), zap.Any("panic", v))
		writeError(w, http.StatusInternalServerError, "internal error")
	}

	mux.GET("/healthz", s.handleHealth)

	mux.POST("/api/games", s.handleCreateGame)
	mux.POST("/api/games/join", s.handleJoin)
	mux.POST("/api/games/:roomCode/start", s.handleStart)
	mux.GET("/api/games/:roomCode", s.handleView)
	mux.POST("/api/games/:roomCode/place", s.handlePlace)
	mux.GET("/api/games/:roomCode/timeline.png", s.handleTimelinePNG)
	mux.GET("/api/cards/:id/hint", s.handleHint)
	mux.GET("/api/results", s.handleResults)

	return mux
}

// HTTPServer builds the http.Server so the caller owns startup and
// graceful shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       requestTimeout,
		ReadHeaderTimeout: requestTimeout,
		WriteTimeout:      requestTimeout,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		MaxPlayers int `json:"maxPlayers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	g, err := s.mgr.CreateGame(r.Context(), req.MaxPlayers)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		RoomCode string `json:"roomCode"`
		Name     string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.RoomCode == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "roomCode and name are required")
		return
	}
	p, err := s.mgr.Join(r.Context(), req.RoomCode, req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	ts, err := s.mgr.Start(r.Context(), p.ByName("roomCode"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	view, err := s.mgr.View(r.Context(), p.ByName("roomCode"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var req struct {
		PlayerID string `json:"playerId"`
		CardID   string `json:"cardId"`
		Position int    `json:"position"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.CardID == "" {
		writeError(w, http.StatusBadRequest, "playerId and cardId are required")
		return
	}
	res, err := s.mgr.AttemptPlacement(r.Context(), p.ByName("roomCode"), req.PlayerID, req.CardID, req.Position)
	if err != nil {
		// Rule violations are part of normal play: the client gets a
		// regular response body, not an HTTP failure.
		switch {
		case errors.Is(err, game.ErrNotPlayersTurn),
			errors.Is(err, game.ErrCardNotInHand),
			errors.Is(err, game.ErrGameNotActive):
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"error":   rootMessage(err),
			})
		default:
			s.writeDomainError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTimelinePNG(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	roomCode := p.ByName("roomCode")
	entries, err := s.mgr.Timeline(r.Context(), roomCode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	buf, err := s.renderer.RenderPNG(r.Context(), roomCode, entries)
	if err != nil {
		obslog.L().Error("render_timeline", zap.String("room_code", roomCode), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to render timeline")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf); err != nil {
		obslog.L().Warn("write_timeline_png", zap.Error(err))
	}
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"cardId": p.ByName("id"),
		"hint":   s.mgr.Hint(p.ByName("id")),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	recent, err := s.results.Recent(r.Context(), 20)
	if err != nil {
		obslog.L().Warn("recent_results", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if recent == nil {
		recent = []game.GameResult{}
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrGameFull),
		errors.Is(err, store.ErrNameTaken),
		errors.Is(err, game.ErrGameStarted),
		errors.Is(err, game.ErrAlreadyStarted):
		writeError(w, http.StatusConflict, rootMessage(err))
	default:
		obslog.L().Error("request_failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("write_response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// rootMessage unwraps the context fmt.Errorf chain down to the sentinel so
// clients see the stable message, not the internal call path.
func rootMessage(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}
