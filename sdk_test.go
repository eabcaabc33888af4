package harness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGraphSdkLifecycle(t *testing.T) {
	bridge := NewMessageBridge("https://harness.example.com", nil, nil)
	sdk := NewGraphSdk("app-1", "v20.0", bridge, nil)

	ctx := context.Background()
	if _, err := sdk.Login(ctx, LoginOptions{}); err == nil {
		t.Error("Login before Initialize should fail")
	}
	if _, err := sdk.Call(ctx, "me"); err == nil {
		t.Error("Call before Initialize should fail")
	}

	if err := sdk.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if _, err := sdk.Call(ctx, "me"); err == nil {
		t.Error("Call before any login should fail")
	}
}

func TestGraphSdkInitializeRequiresAppID(t *testing.T) {
	sdk := NewGraphSdk("", "v20.0", NewMessageBridge("o", nil, nil), nil)
	if err := sdk.Initialize(context.Background()); err == nil {
		t.Error("Initialize without app ID should fail")
	}
}

func TestGraphSdkLoginViaBridge(t *testing.T) {
	bridge := NewMessageBridge("https://harness.example.com", nil, nil)
	sdk := NewGraphSdk("app-1", "v20.0", bridge, nil)
	if err := sdk.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	type loginOut struct {
		result *LoginResult
		err    error
	}
	done := make(chan loginOut, 1)
	go func() {
		r, err := sdk.Login(context.Background(), LoginOptions{ConfigID: "cfg-1"})
		done <- loginOut{r, err}
	}()

	// Give the login goroutine time to subscribe before posting
	time.Sleep(50 * time.Millisecond)

	// Non-credential chatter is ignored
	bridge.Receive("https://www.facebook.com", json.RawMessage(`{"status":"opened"}`))
	bridge.Receive("https://www.facebook.com", json.RawMessage(`{"code":"ABC123","userID":"42"}`))

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Login failed: %v", out.err)
		}
		if out.result.Code != "ABC123" || out.result.UserID != "42" {
			t.Errorf("Login result = %+v", out.result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Login did not return after bridge message")
	}
}

func TestGraphSdkLoginContextCancel(t *testing.T) {
	bridge := NewMessageBridge("https://harness.example.com", nil, nil)
	sdk := NewGraphSdk("app-1", "v20.0", bridge, nil)
	if err := sdk.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := sdk.Login(ctx, LoginOptions{}); err == nil {
		t.Error("Login should fail when the popup never reports back")
	}
}

func TestGraphSdkCall(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v20.0/me") {
			t.Errorf("Path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("access_token"); got != "EAAB-token" {
			t.Errorf("access_token = %s", got)
		}
		_, _ = w.Write([]byte(`{"id":"42","name":"Test User"}`))
	}))
	defer graph.Close()

	bridge := NewMessageBridge("https://harness.example.com", nil, nil)
	sdk := NewGraphSdk("app-1", "v20.0", bridge, nil)
	sdk.baseURL = graph.URL
	if err := sdk.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sdk.Login(context.Background(), LoginOptions{})
	}()
	time.Sleep(50 * time.Millisecond)
	bridge.Receive("https://www.facebook.com", json.RawMessage(`{"accessToken":"EAAB-token"}`))
	<-done

	body, err := sdk.Call(context.Background(), "/me")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !strings.Contains(string(body), "Test User") {
		t.Errorf("Body = %s", body)
	}
}
