package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBrokerClientSignedURL(t *testing.T) {
	var gotAgent, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/signed-url" {
			http.NotFound(w, r)
			return
		}
		gotAgent = r.URL.Query().Get("agent_id")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signed_url":"wss://voice.example.test/convai?token=abc"}`))
	}))
	defer srv.Close()

	client := NewBrokerClient(srv.URL+"/api/", "/signed-url", "secret", time.Second)
	signed, err := client.SignedURL(context.Background(), "agent 1")
	if err != nil {
		t.Fatalf("SignedURL err: %v", err)
	}
	if signed != "wss://voice.example.test/convai?token=abc" {
		t.Fatalf("unexpected url %s", signed)
	}
	if gotAgent != "agent 1" {
		t.Fatalf("agent id not forwarded: %q", gotAgent)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestBrokerClientFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "denied", http.StatusForbidden)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{`))
		},
		"empty url": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"signed_url":""}`))
		},
	}

	for name, handler := range cases {
		srv := httptest.NewServer(handler)
		client := NewBrokerClient(srv.URL, "", "", time.Second)
		_, err := client.SignedURL(context.Background(), "agent")
		srv.Close()
		if !errors.Is(err, ErrCredential) {
			t.Fatalf("%s: expected ErrCredential, got %v", name, err)
		}
	}
}

func TestBrokerClientRequiresAgentAndBase(t *testing.T) {
	if _, err := NewBrokerClient("http://127.0.0.1:1", "", "", time.Second).SignedURL(context.Background(), " "); !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential for empty agent, got %v", err)
	}
	if _, err := NewBrokerClient("", "", "", time.Second).SignedURL(context.Background(), "agent"); !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential for empty base, got %v", err)
	}
}

func TestBrokerClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewBrokerClient(base, "", "", time.Second).SignedURL(context.Background(), "agent")
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
}
