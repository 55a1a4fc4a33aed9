package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/app"
	"bn-hedge-bot/internal/binance"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/hedge"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Runner is the workflow surface the server triggers. Satisfied by
// *app.Manager.
type Runner interface {
	Resolve(ctx context.Context, apiKey, apiSecret string) (*app.Session, error)
	OpenAll(ctx context.Context, sess *app.Session) hedge.Code
	CloseAll(ctx context.Context, sess *app.Session) hedge.Code
	Balance(ctx context.Context, sess *app.Session, symbol string, checkOnly bool) (bool, error)
	Funding(ctx context.Context, sess *app.Session, startTime, endTime int64) ([]binance.FundingIncomeEntry, error)
	Locks() *hedge.Locks
}

// Server exposes the workflow triggers over HTTP. Trade routes submit
// a workflow and answer immediately; the running workflow is guarded
// by the per-account lock.
type Server struct {
	cfg     config.ServerConfig
	runner  Runner
	metrics http.Handler
	router  *mux.Router
	log     *zap.Logger

	baseCtx context.Context
}

func New(cfg config.ServerConfig, runner Runner, metricsHandler http.Handler, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		metrics: metricsHandler,
		router:  mux.NewRouter(),
		log:     log,
		baseCtx: context.Background(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/open", s.handleOpen).Methods(http.MethodPost)
	s.router.HandleFunc("/close", s.handleClose).Methods(http.MethodPost)
	s.router.HandleFunc("/balance", s.handleBalance).Methods(http.MethodPost)
	s.router.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	s.router.HandleFunc("/distribute", s.handleDistribute).Methods(http.MethodGet)
	s.router.HandleFunc("/funding", s.handleFunding).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routed handler, CORS included. Exposed for
// tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-KEY", "X-API-SECRET"},
	})
	return c.Handler(s.router)
}

// Start serves until the context ends. Workflow goroutines inherit
// the server context, not the request's, so a closed connection never
// cancels a half-placed hedge.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("api server listening", zap.String("addr", s.cfg.ListenAddr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type tradeRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Symbol    string `json:"symbol"`
	Check     bool   `json:"check"`
}

type result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.resolveTrade(w, r)
	if !ok {
		return
	}
	if sess.Snapshot.State() == account.Open {
		writeResult(w, hedge.CodeTaskComplete, "position already open")
		return
	}
	release, acquired := s.runner.Locks().TryAcquire(sess.UID)
	if !acquired {
		writeResult(w, hedge.CodeTaskRunning, "a workflow is already running")
		return
	}
	ctx := s.baseCtx
	go func() {
		defer release()
		code := s.runner.OpenAll(ctx, sess)
		s.log.Info("open workflow finished",
			zap.Int64("uid", sess.UID),
			zap.String("code", code.String()),
		)
	}()
	writeResult(w, hedge.CodeSuccess, "open task submitted")
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.resolveTrade(w, r)
	if !ok {
		return
	}
	if sess.Snapshot.State() == account.Flat {
		writeResult(w, hedge.CodeTaskComplete, "position already flat")
		return
	}
	release, acquired := s.runner.Locks().TryAcquire(sess.UID)
	if !acquired {
		writeResult(w, hedge.CodeTaskRunning, "a workflow is already running")
		return
	}
	ctx := s.baseCtx
	go func() {
		defer release()
		code := s.runner.CloseAll(ctx, sess)
		s.log.Info("close workflow finished",
			zap.Int64("uid", sess.UID),
			zap.String("code", code.String()),
		)
	}()
	writeResult(w, hedge.CodeSuccess, "close task submitted")
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	req, sess, ok := s.resolveTrade(w, r)
	if !ok {
		return
	}
	if req.Symbol == "" {
		writeResult(w, hedge.CodeSystemError, "symbol is required")
		return
	}
	release, acquired := s.runner.Locks().TryAcquire(sess.UID)
	if !acquired {
		writeResult(w, hedge.CodeTaskRunning, "a workflow is already running")
		return
	}
	defer release()
	imbalanced, err := s.runner.Balance(r.Context(), sess, req.Symbol, req.Check)
	if err != nil {
		s.log.Error("balance workflow failed", zap.Int64("uid", sess.UID), zap.Error(err))
		writeResult(w, hedge.CodeSystemError, err.Error())
		return
	}
	writeJSON(w, result{
		Code:    int(hedge.CodeSuccess),
		Message: "success",
		Data:    map[string]bool{"imbalanced": imbalanced},
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveQuery(w, r)
	if !ok {
		return
	}
	if err := sess.Reconciler.RefreshEquity(r.Context(), sess.Snapshot); err != nil {
		writeResult(w, hedge.CodeSystemError, err.Error())
		return
	}
	if err := sess.Reconciler.Refresh(r.Context(), sess.Snapshot); err != nil {
		writeResult(w, hedge.CodeSystemError, err.Error())
		return
	}
	writeJSON(w, result{Code: int(hedge.CodeSuccess), Message: "success", Data: sess.Snapshot.Summary()})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveQuery(w, r)
	if !ok {
		return
	}
	if err := sess.Reconciler.Refresh(r.Context(), sess.Snapshot); err != nil {
		writeResult(w, hedge.CodeSystemError, err.Error())
		return
	}
	writeJSON(w, result{Code: int(hedge.CodeSuccess), Message: "success", Data: sess.Snapshot.Distribution()})
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveQuery(w, r)
	if !ok {
		return
	}
	startTime := parseInt64(r.URL.Query().Get("start_time"))
	endTime := parseInt64(r.URL.Query().Get("end_time"))
	entries, err := s.runner.Funding(r.Context(), sess, startTime, endTime)
	if err != nil {
		writeResult(w, hedge.CodeSystemError, err.Error())
		return
	}
	writeJSON(w, result{Code: int(hedge.CodeSuccess), Message: "success", Data: entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// resolveTrade decodes a trade request body and maps its credentials
// to a session. Auth failures answer 502 in the body with HTTP 200;
// the numeric code is the contract, not the transport status.
func (s *Server) resolveTrade(w http.ResponseWriter, r *http.Request) (tradeRequest, *app.Session, bool) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, hedge.CodeSystemError, "invalid request body")
		return req, nil, false
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-API-KEY")
	}
	if req.APISecret == "" {
		req.APISecret = r.Header.Get("X-API-SECRET")
	}
	sess, ok := s.resolve(w, r.Context(), req.APIKey, req.APISecret)
	return req, sess, ok
}

func (s *Server) resolveQuery(w http.ResponseWriter, r *http.Request) (*app.Session, bool) {
	return s.resolve(w, r.Context(), r.Header.Get("X-API-KEY"), r.Header.Get("X-API-SECRET"))
}

func (s *Server) resolve(w http.ResponseWriter, ctx context.Context, apiKey, apiSecret string) (*app.Session, bool) {
	if apiKey == "" || apiSecret == "" {
		writeResult(w, hedge.CodeAuthFailure, "api credentials are required")
		return nil, false
	}
	sess, err := s.runner.Resolve(ctx, apiKey, apiSecret)
	if err != nil {
		s.log.Warn("credential resolution failed", zap.Error(err))
		writeResult(w, hedge.CodeAuthFailure, "invalid api credentials")
		return nil, false
	}
	return sess, true
}

func writeResult(w http.ResponseWriter, code hedge.Code, message string) {
	writeJSON(w, result{Code: int(code), Message: message})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func parseInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}
