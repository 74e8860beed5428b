package upstream

import (
	"encoding/json"
	"testing"
)

func rawString(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal %q: %v", s, err)
	}
	return b
}

func TestBuildPayloadPrependsSystemPrompt(t *testing.T) {
	c := New(Config{BaseURL: "https://openrouter.ai/api/v1", APIKey: "k"})

	body, err := c.buildPayload(Request{
		Messages:     []Message{{Role: "user", Content: rawString(t, "hi")}},
		Model:        "m",
		SystemPrompt: "You are concise",
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var payload struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
		Plugins  []any     `json:"plugins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Model != "m" {
		t.Fatalf("expected model m, got %q", payload.Model)
	}
	if !payload.Stream {
		t.Fatalf("stream must always be true")
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
		t.Fatalf("expected prepended system message, got %#v", payload.Messages)
	}
	if payload.Plugins != nil {
		t.Fatalf("plugins must be absent without web search")
	}
}

func TestBuildPayloadWebSearchAndDefaultModel(t *testing.T) {
	c := New(Config{BaseURL: "https://openrouter.ai/api/v1", DefaultModel: "fallback"})

	body, err := c.buildPayload(Request{
		Messages:         []Message{{Role: "user", Content: rawString(t, "hi")}},
		WebSearchEnabled: true,
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["model"] != "fallback" {
		t.Fatalf("expected default model, got %#v", payload["model"])
	}
	plugins, ok := payload["plugins"].([]any)
	if !ok || len(plugins) != 1 {
		t.Fatalf("expected one plugin, got %#v", payload["plugins"])
	}
	if id := plugins[0].(map[string]any)["id"]; id != "web" {
		t.Fatalf("expected web plugin, got %#v", id)
	}
}

func TestBuildEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://openrouter.ai/api/v1", "https://openrouter.ai/api/v1/chat/completions"},
		{"https://openrouter.ai/api/v1/", "https://openrouter.ai/api/v1/chat/completions"},
		{"https://openrouter.ai/api/v1/chat/completions", "https://openrouter.ai/api/v1/chat/completions"},
	}
	for _, tc := range cases {
		c := New(Config{BaseURL: tc.base})
		got, err := c.buildEndpointURL()
		if err != nil {
			t.Fatalf("base %q: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("base %q: got %q, want %q", tc.base, got, tc.want)
		}
	}
}
