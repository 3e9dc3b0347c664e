package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stickerstudio/internal/models"

	"go.uber.org/atomic"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"aiModel":"pollinations"`) {
			t.Errorf("Expected aiModel in body, got %s", body)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"url":"https://img/1.png"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", time.Second)
	url, err := c.Generate(context.Background(), models.GenerateRequest{Prompt: "cat", Model: "pollinations"})
	if err != nil {
		t.Fatal("Failed to generate:", err)
	}
	if url != "https://img/1.png" {
		t.Errorf("Expected image url, got %s", url)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	if _, err := c.Generate(context.Background(), models.GenerateRequest{}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Expected ErrEmptyImage, got %v", err)
	}
}

func TestOptimizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Optimize(context.Background(), models.OptimizeRequest{Prompt: "cat"})
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("Expected upstream error message, got %v", err)
	}
}

func TestConsumeQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"Quota exceeded","remaining":0}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	if _, err := c.ConsumeQuota(context.Background(), 3); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Expected ErrQuotaExceeded, got %v", err)
	}
}

func TestFetchUser(t *testing.T) {
	guest := atomic.NewBool(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if guest.Load() {
			w.Write([]byte(`{"user":null,"isGuest":true}`))
			return
		}
		w.Write([]byte(`{"user":{"id":"u1","email":"a@b.c","generationsUsed":3,"generationsLimit":1000},"isGuest":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	user, err := c.FetchUser(context.Background())
	if err != nil || user != nil {
		t.Errorf("Expected nil user for guest, got %v, %v", user, err)
	}

	guest.Store(false)
	user, err = c.FetchUser(context.Background())
	if err != nil {
		t.Fatal("Failed to fetch user:", err)
	}
	if user.ID != "u1" || user.GenerationsUsed != 3 {
		t.Errorf("Unexpected user %+v", user)
	}
}
