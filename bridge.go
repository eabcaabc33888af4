package harness

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// trustedOriginSubstrings is the fixed allow-list for cross-window
// messages. A message is accepted if its origin is the page's own origin or
// contains one of these substrings. This filter avoids feedback loops and
// obvious junk; it is not a security boundary.
var trustedOriginSubstrings = []string{
	"facebook.com",
	"whatsapp.com",
}

// frameworkSourceTag marks messages the rendering layer posts to itself;
// they are dropped before logging to avoid feedback loops
const frameworkSourceTag = "react"

// WindowMessageEvent is one accepted cross-window message. The log is
// append-only and unbounded for the session lifetime, which is acceptable
// for a diagnostic tool.
type WindowMessageEvent struct {
	Origin     string          `json:"origin"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// bridgePayload is the subset of message payloads the bridge inspects for
// credential material
type bridgePayload struct {
	Source      string `json:"source"`
	Code        string `json:"code"`
	AccessToken string `json:"accessToken"`
}

// MessageBridge collects messages popup windows post back to the host page
// during embedded-signup flows. The popup navigates within its own context,
// so cross-window messaging is the only way it can hand credentials back.
// One bridge is registered per server lifetime.
type MessageBridge struct {
	pageOrigin string
	trace      *TraceLog
	logger     Logger

	mu          sync.Mutex
	events      []WindowMessageEvent
	subscribers []chan WindowMessageEvent
}

// NewMessageBridge creates a bridge trusting the given page origin; trace
// may be nil
func NewMessageBridge(pageOrigin string, trace *TraceLog, logger Logger) *MessageBridge {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &MessageBridge{
		pageOrigin: pageOrigin,
		trace:      trace,
		logger:     logger,
	}
}

// trusted applies the origin acceptance filter
func (b *MessageBridge) trusted(origin string) bool {
	if origin == b.pageOrigin {
		return true
	}
	for _, s := range trustedOriginSubstrings {
		if strings.Contains(origin, s) {
			return true
		}
	}
	return false
}

// Receive runs the acceptance filter and, when it passes, appends the
// message to the event log and notifies subscribers. It reports whether the
// message was accepted.
func (b *MessageBridge) Receive(origin string, payload json.RawMessage) bool {
	var tagged bridgePayload
	// Payloads are arbitrary; the tag probe tolerates non-object bodies.
	_ = json.Unmarshal(payload, &tagged)

	if strings.Contains(tagged.Source, frameworkSourceTag) {
		return false
	}

	if !b.trusted(origin) {
		b.logger.Warn("Bridge: rejected message from untrusted origin: %s", origin)
		return false
	}

	event := WindowMessageEvent{
		Origin:     origin,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	b.mu.Lock()
	b.events = append(b.events, event)
	subs := make([]chan WindowMessageEvent, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	if tagged.Code != "" || tagged.AccessToken != "" {
		if b.trace != nil {
			b.trace.Append("Captured auth data via window message from %s", origin)
		}
		b.logger.Info("Bridge: captured credential material via message from %s", origin)
	} else {
		b.logger.Debug("Bridge: received window message from %s", origin)
	}

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// A stalled subscriber must not block message capture.
		}
	}
	return true
}

// Events returns a copy of the accepted-message log
func (b *MessageBridge) Events() []WindowMessageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]WindowMessageEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Subscribe returns a channel receiving accepted messages from now on
func (b *MessageBridge) Subscribe() <-chan WindowMessageEvent {
	ch := make(chan WindowMessageEvent, 16)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}
