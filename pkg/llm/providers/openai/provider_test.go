package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gliderlab/coagent/pkg/llm"
)

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got %q", auth)
		}
		var req llm.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o" {
			t.Errorf("Expected default model, got %s", req.Model)
		}

		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{
				Message:      llm.Message{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
		})
	}))
	defer server.Close()

	p := New(llm.Config{APIKey: "test-key", BaseURL: server.URL})
	resp, err := p.Chat(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello" {
		t.Errorf("Expected 'hello', got %q", resp.Choices[0].Message.Content)
	}
}

func TestChatRetriesOn500(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer server.Close()

	p := New(llm.Config{BaseURL: server.URL})
	resp, err := p.Chat(context.Background(), &llm.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if resp.Choices[0].Message.Content != "ok" {
		t.Errorf("Expected 'ok', got %q", resp.Choices[0].Message.Content)
	}
}

func TestChatErrorPropagated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	p := New(llm.Config{BaseURL: server.URL})
	if _, err := p.Chat(context.Background(), &llm.ChatRequest{}); err == nil {
		t.Error("Expected error for 401 response")
	}
}

func TestEmbeddings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected /embeddings, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(llm.EmbedResponse{
			Data: []llm.Embedding{{Index: 0, Embedding: []float64{0.1, 0.2}}},
		})
	}))
	defer server.Close()

	p := New(llm.Config{BaseURL: server.URL})
	resp, err := p.Embeddings(context.Background(), &llm.EmbedRequest{
		Model: "text-embedding-3-small",
		Input: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Embeddings failed: %v", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) != 2 {
		t.Errorf("Unexpected embedding payload: %+v", resp.Data)
	}
}
