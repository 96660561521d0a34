package tokenizer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHeuristic_Count(t *testing.T) {
	h := NewHeuristic()
	if got := h.Count(""); got != 0 {
		t.Errorf("empty: got %d, want 0", got)
	}
	// 8 chars -> 2 tokens by chars, 1 by words
	if got := h.Count("abcdefgh"); got != 2 {
		t.Errorf("8 chars: got %d, want 2", got)
	}
	// many short words: word count dominates
	text := strings.Repeat("a ", 10) // 20 chars, 10 words
	if got := h.Count(text); got != 10 {
		t.Errorf("10 words: got %d, want 10", got)
	}
}

func TestHeuristic_Monotonic(t *testing.T) {
	h := NewHeuristic()
	prev := 0
	s := ""
	for i := 0; i < 50; i++ {
		s += "word "
		n := h.Count(s)
		if n < prev {
			t.Fatalf("count decreased: %d -> %d at %d words", prev, n, i+1)
		}
		prev = n
	}
}

func TestRemote_Count(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/count" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tokens": 42}`))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	if got := r.Count("hello world"); got != 42 {
		t.Errorf("remote count: got %d, want 42", got)
	}
}

func TestRemote_FallbackOnError(t *testing.T) {
	r := NewRemote("http://127.0.0.1:1", 50*time.Millisecond)
	want := NewHeuristic().Count("hello world")
	if got := r.Count("hello world"); got != want {
		t.Errorf("fallback count: got %d, want %d", got, want)
	}
}
