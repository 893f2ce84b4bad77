package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "messages.#(content%\"*fail*\")").Exists() {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
			return
		}
		if !gjson.GetBytes(body, "stream").Bool() {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  plain answer "}}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", piece)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
		var req openai.ImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"created":1,"data":[{"url":"https://img.example/1.png"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, key string) *Client {
	srv := newTestServer(t)
	return NewClient(Config{
		APIKey:     key,
		BaseURL:    srv.URL + "/",
		Model:      "gpt-4o-mini",
		ImageModel: "dall-e-3",
		MaxTokens:  256,
	}, nil)
}

func userMessage(text string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: text}}
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, "test-key")
	got, err := c.Complete(context.Background(), userMessage("hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "plain answer" {
		t.Errorf("got %q", got)
	}
}

func TestStreamText(t *testing.T) {
	c := newTestClient(t, "test-key")
	var fragments []string
	text, err := c.StreamText(context.Background(), userMessage("hi"), func(s string) {
		fragments = append(fragments, s)
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if text != "Hello" || len(fragments) != 2 {
		t.Errorf("text = %q, fragments = %q", text, fragments)
	}
}

func TestStreamRejected(t *testing.T) {
	c := newTestClient(t, "test-key")
	_, err := c.StreamText(context.Background(), userMessage("please fail"), nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.Message != "slow down" {
		t.Errorf("unexpected error: %+v", statusErr)
	}

	c = newTestClient(t, "wrong")
	if _, err := c.Stream(context.Background(), userMessage("hi")); !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("want 401, got %v", err)
	}
}

func TestGenerateImage(t *testing.T) {
	c := newTestClient(t, "test-key")
	url, err := c.GenerateImage(context.Background(), "a neon thumbnail")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "https://img.example/1.png" {
		t.Errorf("url = %q", url)
	}
}

func TestPromptIsPersonalised(t *testing.T) {
	p := &models.Profile{Niche: "fitness", Platforms: []string{"tiktok"}, Followers: 1200, Goal: "grow faster"}
	msgs, err := Prompt(models.HookItem, p, models.DefaultPreferences(), "  morning routines ")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	for _, want := range []string{"fitness", "tiktok", "1200", "casual"} {
		if !strings.Contains(msgs[0].Content, want) {
			t.Errorf("system prompt missing %q: %s", want, msgs[0].Content)
		}
	}
	if !strings.HasSuffix(msgs[1].Content, "Topic: morning routines") {
		t.Errorf("user prompt = %q", msgs[1].Content)
	}

	if _, err := Prompt(models.ItemType("poem"), nil, models.DefaultPreferences(), "x"); err == nil {
		t.Error("want error for unknown type")
	}
}

func TestChatPromptMapsRoles(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	}
	msgs := ChatPrompt(nil, models.DefaultPreferences(), history)
	if len(msgs) != 3 || msgs[1].Role != openai.ChatMessageRoleUser || msgs[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}
