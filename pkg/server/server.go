// Package server exposes the assistant and the calculators over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ollbud/quotebot/pkg/compose"
	"github.com/ollbud/quotebot/pkg/orchestrator"
	"github.com/ollbud/quotebot/pkg/pricing"
	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/quota"
	"github.com/ollbud/quotebot/pkg/ratecatalog"
	"github.com/ollbud/quotebot/pkg/toolreg"
)

const maxBodyBytes = 1 << 20

// QuotaExceededMessage is the reply when a client has used up today's requests.
const QuotaExceededMessage = "Wykorzystano dzienny limit zapytań do asystenta. " +
	"Zapraszamy ponownie jutro lub do kontaktu telefonicznego."

// Chatter answers a conversation. *orchestrator.Orchestrator satisfies it.
type Chatter interface {
	SubmitChat(ctx context.Context, history []provider.Message) orchestrator.Response
}

// Server holds the HTTP handlers.
type Server struct {
	chat   Chatter
	rates  toolreg.RateFinder
	quota  quota.Store
	leads  orchestrator.LeadRecorder
	logger *zap.SugaredLogger
	now    func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithQuota enforces a daily quota on /api/chat and enables the quota
// endpoints.
func WithQuota(s quota.Store) Option {
	return func(srv *Server) { srv.quota = s }
}

// WithLeads records estimates made through /api/offer/estimate.
func WithLeads(r orchestrator.LeadRecorder) Option {
	return func(srv *Server) { srv.leads = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// New creates a Server.
func New(chat Chatter, rates toolreg.RateFinder, opts ...Option) *Server {
	s := &Server{
		chat:   chat,
		rates:  rates,
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes adds the API routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/offer/estimate", s.handleEstimate)
	mux.HandleFunc("POST /api/offer/export/txt", s.handleExportTxt)
	mux.HandleFunc("POST /api/rates/search", s.handleRateSearch)
	mux.HandleFunc("POST /api/quota/check", s.handleQuotaCheck)
	mux.HandleFunc("POST /api/quota/consume", s.handleQuotaConsume)
}

// Handler returns the routes wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(cors(mux))
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Infow("HTTP server shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// chatTurn is one inbound history turn. Tool calls and call ids are not
// accepted from callers.
type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	ClientID string     `json:"client_id"`
	History  []chatTurn `json:"history"`
	Message  string     `json:"message"` // shorthand for a single user turn
}

func (r chatRequest) messages() []provider.Message {
	out := make([]provider.Message, 0, len(r.History)+1)
	for _, t := range r.History {
		out = append(out, provider.Message{Role: provider.Role(t.Role), Content: t.Content})
	}
	if msg := strings.TrimSpace(r.Message); msg != "" {
		out = append(out, provider.Message{Role: provider.RoleUser, Content: msg})
	}
	return out
}

type chatResponse struct {
	Reply string        `json:"reply"`
	Quota *quota.Status `json:"quota,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": s.now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	history := req.messages()
	if len(history) == 0 {
		writeError(w, http.StatusBadRequest, "history is empty")
		return
	}

	ctx := r.Context()
	clientID := strings.TrimSpace(req.ClientID)
	var status *quota.Status
	if s.quota != nil && clientID != "" {
		st, err := s.quota.Consume(ctx, clientID)
		switch {
		case errors.Is(err, quota.ErrExhausted):
			writeJSON(w, http.StatusTooManyRequests, chatResponse{Reply: QuotaExceededMessage, Quota: &st})
			return
		case err != nil:
			// Fail open.
			s.logger.Warnw("quota consume failed, serving anyway", "client_id", clientID, "error", err)
		default:
			status = &st
		}
	}
	if clientID != "" {
		ctx = orchestrator.WithClientID(ctx, clientID)
	}

	resp := s.chat.SubmitChat(ctx, history)
	writeJSON(w, http.StatusOK, chatResponse{Reply: resp.Reply, Quota: status})
}

type estimateRequest struct {
	ClientID string  `json:"client_id"`
	AreaM2   float64 `json:"area_m2"`
	Standard string  `json:"standard"`
}

// estimate decodes and prices an estimateRequest, writing a 400 for
// malformed bodies and out-of-range areas.
func (s *Server) estimate(w http.ResponseWriter, r *http.Request) (estimateRequest, pricing.EstimateResult, bool) {
	var req estimateRequest
	if !s.decode(w, r, &req) {
		return req, pricing.EstimateResult{}, false
	}
	if !pricing.ValidArea(req.AreaM2) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("area_m2 must be between 0 and %g", pricing.MaxAreaM2))
		return req, pricing.EstimateResult{}, false
	}
	st, ok := pricing.ParseStandard(req.Standard)
	if !ok {
		s.logger.Warnw("unknown standard, pricing as block", "standard", req.Standard)
	}
	return req, pricing.Estimate(req.AreaM2, st), true
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	req, est, ok := s.estimate(w, r)
	if !ok {
		return
	}
	if s.leads != nil {
		if err := s.leads.RecordEstimate(r.Context(), strings.TrimSpace(req.ClientID), est); err != nil {
			s.logger.Warnw("lead record failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleExportTxt(w http.ResponseWriter, r *http.Request) {
	_, est, ok := s.estimate(w, r)
	if !ok {
		return
	}
	content, filename := compose.ExportText(est, s.now())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

type rateSearchRequest struct {
	Query    string   `json:"query"`
	TopN     int      `json:"top_n"`
	Quantity *float64 `json:"quantity"`
}

type rateSearchResponse struct {
	Query   string                  `json:"query"`
	Matches []ratecatalog.RateMatch `json:"matches"`
}

func (s *Server) handleRateSearch(w http.ResponseWriter, r *http.Request) {
	var req rateSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if s.rates == nil {
		writeError(w, http.StatusServiceUnavailable, ratecatalog.ErrCatalogUnavailable.Error())
		return
	}
	matches, err := s.rates.Find(r.Context(), query, req.TopN, req.Quantity)
	if err != nil {
		s.logger.Errorw("rate search failed", "query", query, "error", err)
		writeError(w, http.StatusServiceUnavailable, ratecatalog.ErrCatalogUnavailable.Error())
		return
	}
	writeJSON(w, http.StatusOK, rateSearchResponse{Query: query, Matches: matches})
}

type quotaRequest struct {
	ClientID string `json:"client_id"`
}

func (s *Server) quotaClient(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.quota == nil {
		writeError(w, http.StatusNotFound, "quota is disabled")
		return "", false
	}
	var req quotaRequest
	if !s.decode(w, r, &req) {
		return "", false
	}
	id := strings.TrimSpace(req.ClientID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return "", false
	}
	return id, true
}

func (s *Server) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.quotaClient(w, r)
	if !ok {
		return
	}
	st, err := s.quota.Check(r.Context(), id)
	if err != nil {
		s.logger.Errorw("quota check failed", "client_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "quota backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleQuotaConsume reports the status after consuming; an exhausted
// quota is not an HTTP error here.
func (s *Server) handleQuotaConsume(w http.ResponseWriter, r *http.Request) {
	id, ok := s.quotaClient(w, r)
	if !ok {
		return
	}
	st, err := s.quota.Consume(r.Context(), id)
	if err != nil && !errors.Is(err, quota.ErrExhausted) {
		s.logger.Errorw("quota consume failed", "client_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "quota backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeJSON encodes v before committing status; an encoding failure is
// written as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"response encoding failed"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
