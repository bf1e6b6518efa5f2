package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOpenAI_Defaults(t *testing.T) {
	o := NewOpenAI("test-key", "")
	if o.model != "gpt-4o-mini" {
		t.Errorf("default model = %q, want gpt-4o-mini", o.model)
	}
	if o.apiKey != "test-key" {
		t.Errorf("apiKey = %q, want test-key", o.apiKey)
	}
}

func TestNewOpenAI_Options(t *testing.T) {
	o := NewOpenAI("key", "model", WithBaseURL("http://localhost:11434/v1/"), WithTimeout(3*time.Second))
	if o.baseURL != "http://localhost:11434/v1/" {
		t.Errorf("baseURL = %q", o.baseURL)
	}
	if o.timeout != 3*time.Second {
		t.Errorf("timeout = %v", o.timeout)
	}
}

func TestOpenAI_Name(t *testing.T) {
	o := NewOpenAI("key", "model")
	if o.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", o.Name())
	}
}

func TestOpenAI_NoAPIKey(t *testing.T) {
	o := NewOpenAI("", "model")
	o.apiKey = ""
	_, err := o.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestOpenAI_Chat_SimpleResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("bad auth header: %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)

		if req["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", req["model"])
		}
		if req["temperature"] != 0.3 {
			t.Errorf("temperature = %v", req["temperature"])
		}
		msgs, _ := req["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("expected 2 messages, got %d", len(msgs))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Hello!"}}],
			"usage": {"prompt_tokens": 80, "completion_tokens": 15, "total_tokens": 95}
		}`))
	}))
	defer server.Close()

	o := NewOpenAI("test-key", "", WithBaseURL(server.URL+"/v1/"))
	resp, err := o.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are helpful."},
			{Role: RoleUser, Content: "Hi"},
		},
		Temperature: Float(0.3),
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 80 || resp.Usage.CompletionTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenAI_Chat_ToolCallResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		tools, _ := req["tools"].([]any)
		if len(tools) != 1 {
			t.Errorf("expected 1 tool, got %d", len(tools))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "estimate_offer", "arguments": "{\"area_m2\":45,\"standard\":\"block\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 20}
		}`))
	}))
	defer server.Close()

	o := NewOpenAI("test-key", "gpt-4o", WithBaseURL(server.URL+"/v1/"))
	resp, err := o.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Malowanie 45 m2"}},
		Tools: []ToolDef{{
			Name:        "estimate_offer",
			Description: "Estimate",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "estimate_offer" || tc.ID != "call_1" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments != `{"area_m2":45,"standard":"block"}` {
		t.Errorf("arguments = %q", tc.Arguments)
	}
}

func TestOpenAI_Chat_SendsToolTurns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Role       string `json:"role"`
				ToolCallID string `json:"tool_call_id"`
				ToolCalls  []struct {
					ID       string `json:"id"`
					Function struct {
						Name string `json:"name"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if len(req.Messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(req.Messages))
		}
		asst := req.Messages[1]
		if asst.Role != "assistant" || len(asst.ToolCalls) != 1 || asst.ToolCalls[0].Function.Name != "get_rate" {
			t.Errorf("assistant turn = %+v", asst)
		}
		if req.Messages[2].Role != "tool" || req.Messages[2].ToolCallID != "call_9" {
			t.Errorf("tool turn = %+v", req.Messages[2])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Gotowe."}}]}`))
	}))
	defer server.Close()

	o := NewOpenAI("test-key", "", WithBaseURL(server.URL+"/v1/"))
	resp, err := o.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "tynki 30 m2"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_9", Name: "get_rate", Arguments: `{"query":"tynk"}`}}},
			{Role: RoleTool, ToolCallID: "call_9", Name: "get_rate", Content: `[]`},
		},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "Gotowe." {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestOpenAI_Chat_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":0}}`))
	}))
	defer server.Close()

	o := NewOpenAI("test-key", "gpt-4o", WithBaseURL(server.URL+"/v1/"))
	resp, err := o.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("expected empty content, got %q", resp.Content)
	}
}

func TestOpenAI_Chat_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(429)
		w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	}))
	defer server.Close()

	o := NewOpenAI("test-key", "gpt-4o", WithBaseURL(server.URL+"/v1/"))
	_, err := o.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	var rerr *RemoteCallError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteCallError, got %v", err)
	}
	if rerr.StatusCode != 429 {
		t.Errorf("status = %d, want 429", rerr.StatusCode)
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"anthropic", false},
		{"claude", false},
		{"openai", false},
		{"gpt", false},
		{"", false},
		{"unknown", true},
	}
	for _, tt := range tests {
		p, err := NewFromConfig(Config{Name: tt.name, APIKey: "key", Model: "model"})
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewFromConfig(%q) expected error", tt.name)
			}
		} else {
			if err != nil {
				t.Errorf("NewFromConfig(%q) error: %v", tt.name, err)
			}
			if p == nil {
				t.Errorf("NewFromConfig(%q) returned nil", tt.name)
			}
		}
	}
}
