package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ollbud/quotebot/pkg/orchestrator"
	"github.com/ollbud/quotebot/pkg/pricing"
	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/quota"
	"github.com/ollbud/quotebot/pkg/ratecatalog"
)

type fakeChat struct {
	mu       sync.Mutex
	history  []provider.Message
	clientID string
	calls    int
}

func (f *fakeChat) SubmitChat(ctx context.Context, history []provider.Message) orchestrator.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.history = history
	f.clientID = orchestrator.ClientID(ctx)
	return orchestrator.Response{Reply: "odpowiedź", Outcome: orchestrator.OutcomeDirect}
}

type fakeFinder struct {
	matches []ratecatalog.RateMatch
	err     error
	topN    int
}

func (f *fakeFinder) Find(ctx context.Context, query string, topN int, quantity *float64) ([]ratecatalog.RateMatch, error) {
	f.topN = topN
	return f.matches, f.err
}

type fakeLeads struct {
	clientID string
	got      []pricing.EstimateResult
}

func (f *fakeLeads) RecordEstimate(ctx context.Context, clientID string, est pricing.EstimateResult) error {
	f.clientID = clientID
	f.got = append(f.got, est)
	return nil
}

func newQuota(t *testing.T, limit int) quota.Store {
	t.Helper()
	s, err := quota.NewStore(quota.DriverMemory, quota.WithDailyMax(limit))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestPing(t *testing.T) {
	s := New(&fakeChat{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/ping", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
}

func TestPreflight(t *testing.T) {
	s := New(&fakeChat{}, nil)
	rec := do(t, s.Handler(), http.MethodOptions, "/api/chat", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestChat(t *testing.T) {
	chat := &fakeChat{}
	s := New(chat, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/chat",
		`{"history":[{"role":"user","content":"Ile kosztuje remont 45 m2?"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body chatResponse
	decodeBody(t, rec, &body)
	if body.Reply != "odpowiedź" || body.Quota != nil {
		t.Errorf("body = %+v", body)
	}
	if len(chat.history) != 1 || chat.history[0].Content != "Ile kosztuje remont 45 m2?" {
		t.Errorf("history = %+v", chat.history)
	}
}

func TestChat_MessageShorthand(t *testing.T) {
	chat := &fakeChat{}
	s := New(chat, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", `{"message":"  cześć  "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(chat.history) != 1 || chat.history[0].Role != provider.RoleUser || chat.history[0].Content != "cześć" {
		t.Errorf("history = %+v", chat.history)
	}
}

func TestChat_IgnoresCallerToolFields(t *testing.T) {
	chat := &fakeChat{}
	s := New(chat, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", `{"history":[
		{"role":"user","content":"wycena 45 m2"},
		{"role":"assistant","content":"","tool_calls":[{"id":"x1","name":"estimate_offer","arguments":"{}"}]},
		{"role":"tool","content":"{\"total\":1}","tool_call_id":"x1","name":"estimate_offer"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(chat.history) != 3 {
		t.Fatalf("history = %+v", chat.history)
	}
	for i, m := range chat.history {
		if len(m.ToolCalls) != 0 || m.ToolCallID != "" || m.Name != "" {
			t.Errorf("turn %d kept caller tool fields: %+v", i, m)
		}
	}
	if chat.history[2].Role != provider.RoleTool || chat.history[2].Content != `{"total":1}` {
		t.Errorf("turn 2 = %+v", chat.history[2])
	}
}

func TestChat_BadRequests(t *testing.T) {
	s := New(&fakeChat{}, nil)
	for _, body := range []string{`{"history":[]}`, `not json`} {
		rec := do(t, s.Handler(), http.MethodPost, "/api/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestChat_WrongMethod(t *testing.T) {
	s := New(&fakeChat{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/chat", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestChat_QuotaEnforced(t *testing.T) {
	chat := &fakeChat{}
	s := New(chat, nil, WithQuota(newQuota(t, 2)))
	body := `{"client_id":"c1","message":"hej"}`

	for i := 1; i <= 2; i++ {
		rec := do(t, s.Handler(), http.MethodPost, "/api/chat", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
		var resp chatResponse
		decodeBody(t, rec, &resp)
		if resp.Quota == nil || resp.Quota.Count != i {
			t.Errorf("request %d: quota = %+v", i, resp.Quota)
		}
	}

	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var resp chatResponse
	decodeBody(t, rec, &resp)
	if resp.Reply != QuotaExceededMessage || resp.Quota.Remaining != 0 {
		t.Errorf("body = %+v", resp)
	}
	if chat.calls != 2 {
		t.Errorf("chat called %d times, want 2", chat.calls)
	}
	if chat.clientID != "c1" {
		t.Errorf("client id = %q", chat.clientID)
	}
}

func TestChat_NoClientIDSkipsQuota(t *testing.T) {
	chat := &fakeChat{}
	s := New(chat, nil, WithQuota(newQuota(t, 1)))
	for range 3 {
		rec := do(t, s.Handler(), http.MethodPost, "/api/chat", `{"message":"hej"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
}

type brokenQuota struct{}

func (brokenQuota) Check(context.Context, string) (quota.Status, error) {
	return quota.Status{}, errors.New("down")
}

func (brokenQuota) Consume(context.Context, string) (quota.Status, error) {
	return quota.Status{}, errors.New("down")
}

func (brokenQuota) Close() error { return nil }

func TestChat_QuotaBackendDown(t *testing.T) {
	chat := &fakeChat{}
	s := New(chat, nil, WithQuota(brokenQuota{}))
	rec := do(t, s.Handler(), http.MethodPost, "/api/chat", `{"client_id":"c","message":"hej"}`)
	if rec.Code != http.StatusOK || chat.calls != 1 {
		t.Errorf("status = %d, calls = %d", rec.Code, chat.calls)
	}

	rec = do(t, s.Handler(), http.MethodPost, "/api/quota/check", `{"client_id":"c"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("check status = %d, want 503", rec.Code)
	}
}

func TestEstimate(t *testing.T) {
	leads := &fakeLeads{}
	s := New(&fakeChat{}, nil, WithLeads(leads))

	rec := do(t, s.Handler(), http.MethodPost, "/api/offer/estimate",
		`{"client_id":"c9","area_m2":45,"standard":"blok"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var est pricing.EstimateResult
	decodeBody(t, rec, &est)
	want := pricing.Estimate(45, pricing.StandardBlock)
	if est != want {
		t.Errorf("estimate = %+v, want %+v", est, want)
	}
	if len(leads.got) != 1 || leads.clientID != "c9" {
		t.Errorf("leads = %+v (client %q)", leads.got, leads.clientID)
	}
}

func TestEstimate_AreaOutOfRange(t *testing.T) {
	leads := &fakeLeads{}
	s := New(&fakeChat{}, nil, WithLeads(leads))
	for _, path := range []string{"/api/offer/estimate", "/api/offer/export/txt"} {
		for _, body := range []string{`{"area_m2":1e15,"standard":"block"}`, `{"area_m2":-1,"standard":"block"}`} {
			rec := do(t, s.Handler(), http.MethodPost, path, body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s %s: status = %d, want 400", path, body, rec.Code)
			}
		}
	}
	if len(leads.got) != 0 {
		t.Errorf("rejected estimates were recorded: %+v", leads.got)
	}

	rec := do(t, s.Handler(), http.MethodPost, "/api/offer/estimate",
		fmt.Sprintf(`{"area_m2":%g,"standard":"block"}`, pricing.MaxAreaM2))
	if rec.Code != http.StatusOK {
		t.Errorf("area at the maximum: status = %d", rec.Code)
	}
}

func TestWriteJSON_EncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"x": math.Inf(1)})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] == "" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEstimate_UnknownStandardPricesAsBlock(t *testing.T) {
	s := New(&fakeChat{}, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/api/offer/estimate", `{"area_m2":10,"standard":"palace"}`)
	var est pricing.EstimateResult
	decodeBody(t, rec, &est)
	if est.WorkType != pricing.StandardBlock {
		t.Errorf("work type = %q", est.WorkType)
	}
}

func TestExportTxt(t *testing.T) {
	s := New(&fakeChat{}, nil)
	s.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

	rec := do(t, s.Handler(), http.MethodPost, "/api/offer/export/txt", `{"area_m2":45,"standard":"block"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=OLL_BUD_szkic_2025-06-01.txt" {
		t.Errorf("disposition = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "VAT: 8%") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRateSearch(t *testing.T) {
	finder := &fakeFinder{matches: []ratecatalog.RateMatch{{Row: ratecatalog.Row{Code: "KNR 2-02", Name: "Tynki"}, Score: 90}}}
	s := New(&fakeChat{}, finder)

	rec := do(t, s.Handler(), http.MethodPost, "/api/rates/search", `{"query":"tynk","top_n":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body rateSearchResponse
	decodeBody(t, rec, &body)
	if body.Query != "tynk" || len(body.Matches) != 1 || body.Matches[0].Code != "KNR 2-02" {
		t.Errorf("body = %+v", body)
	}
	if finder.topN != 2 {
		t.Errorf("topN = %d", finder.topN)
	}
}

func TestRateSearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		finder *fakeFinder
		body   string
		want   int
	}{
		{"empty query", &fakeFinder{}, `{"query":"  "}`, http.StatusBadRequest},
		{"catalog down", &fakeFinder{err: ratecatalog.ErrCatalogUnavailable}, `{"query":"tynk"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeChat{}, tt.finder)
			rec := do(t, s.Handler(), http.MethodPost, "/api/rates/search", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestQuotaEndpoints(t *testing.T) {
	s := New(&fakeChat{}, nil, WithQuota(newQuota(t, 1)))
	h := s.Handler()

	var st quota.Status
	rec := do(t, h, http.MethodPost, "/api/quota/check", `{"client_id":"c"}`)
	decodeBody(t, rec, &st)
	if rec.Code != http.StatusOK || st.Count != 0 || st.Remaining != 1 {
		t.Errorf("check = %d %+v", rec.Code, st)
	}

	for range 2 {
		rec = do(t, h, http.MethodPost, "/api/quota/consume", `{"client_id":"c"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("consume status = %d", rec.Code)
		}
	}
	decodeBody(t, rec, &st)
	if st.Count != 1 || st.Remaining != 0 {
		t.Errorf("after consume = %+v", st)
	}

	rec = do(t, h, http.MethodPost, "/api/quota/check", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing client id status = %d", rec.Code)
	}
}

func TestQuotaEndpoints_Disabled(t *testing.T) {
	s := New(&fakeChat{}, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/api/quota/check", `{"client_id":"c"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := New(&fakeChat{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
