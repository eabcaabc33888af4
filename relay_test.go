package harness

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRelayEnvelope(t *testing.T) {
	var captured relayEnvelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode envelope: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":true,"request_id":"req-9"}`))
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, nil)
	user := &User{ID: "user-1", Email: "user@example.com"}
	session := &SessionContext{AccessToken: "sess-token", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	reqCtx := RequestContext{
		Origin:    "https://harness.example.com",
		FullURL:   "https://harness.example.com/oauth?code=ABC123",
		UserAgent: "test-agent",
	}

	ack, err := client.Relay(context.Background(), ProviderWhatsApp, "ABC123", "https://harness.example.com/oauth", user, session, reqCtx)
	if err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	if captured.Event != "whatsapp_connected" {
		t.Errorf("Event = %s, want whatsapp_connected", captured.Event)
	}
	if captured.Code != "ABC123" {
		t.Errorf("Code = %s", captured.Code)
	}
	if captured.RedirectURI != "https://harness.example.com/oauth" {
		t.Errorf("RedirectURI = %s", captured.RedirectURI)
	}
	if captured.AppUser == nil || captured.AppUser.ID != "user-1" {
		t.Errorf("AppUser = %+v", captured.AppUser)
	}
	if captured.SessionContext == nil || captured.SessionContext.AccessToken != "sess-token" {
		t.Errorf("SessionContext = %+v", captured.SessionContext)
	}
	if captured.Context.Origin != "https://harness.example.com" {
		t.Errorf("Context.Origin = %s", captured.Context.Origin)
	}
	if _, err := time.Parse(time.RFC3339, captured.Timestamp); err != nil {
		t.Errorf("Timestamp not RFC3339: %s", captured.Timestamp)
	}

	if !strings.Contains(string(ack), "req-9") {
		t.Errorf("Acknowledgment not returned verbatim: %s", ack)
	}
}

func TestRelayBackendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, nil)
	user := &User{ID: "user-1"}

	_, err := client.Relay(context.Background(), ProviderFacebook, "ABC123", "https://example.com/oauth", user, nil, RequestContext{})
	if err == nil {
		t.Fatal("Expected error for 5xx backend response")
	}

	var rerr *RelayError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected RelayError, got %T: %v", err, err)
	}
	if rerr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", rerr.StatusCode)
	}
	if rerr.Body != "upstream timeout" {
		t.Errorf("Body = %q", rerr.Body)
	}
}

func TestRelayExchangerAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	trace := &TraceLog{}
	ex := &relayExchanger{
		client:   NewRelayClient(server.URL, nil),
		provider: ProviderWhatsApp,
		user:     &User{ID: "user-1"},
		trace:    trace,
	}

	result, err := ex.Exchange(context.Background(), "ABC123", "https://example.com/oauth")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if result.Bundle != nil {
		t.Error("Relayed exchange must not produce a local token bundle")
	}
	if !strings.Contains(string(result.Ack), "ok") {
		t.Errorf("Ack = %s", result.Ack)
	}
	if !strings.Contains(trace.String(), "Backend acknowledged") {
		t.Errorf("Trace missing acknowledgment line:\n%s", trace.String())
	}
}
