package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"suggestify/internal/capability"
)

const (
	feedWriteWait = 10 * time.Second
	feedPongWait  = 60 * time.Second
	feedPingEvery = (feedPongWait * 9) / 10
)

// EntityFeed keeps a live capability snapshot over the platform websocket
// API: auth handshake, one get_states to seed, then state_changed events to
// stay current. It doubles as a capability.Registry that never round-trips.
type EntityFeed struct {
	wsURL string
	token string

	mu       sync.RWMutex
	byID     map[string]capability.Capabilities
	onChange func(entityID string)

	dialer *websocket.Dialer
}

func NewEntityFeed(baseURL, token string) *EntityFeed {
	ws := strings.TrimRight(baseURL, "/")
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return &EntityFeed{
		wsURL:  ws + "/api/websocket",
		token:  token,
		byID:   map[string]capability.Capabilities{},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// OnChange registers a callback fired for every entity whose attributes
// changed, e.g. to invalidate an external cache.
func (f *EntityFeed) OnChange(fn func(entityID string)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Lookup serves from the in-memory snapshot.
func (f *EntityFeed) Lookup(_ context.Context, entityID string) (capability.Capabilities, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.byID[strings.TrimSpace(entityID)]
	return c, ok, nil
}

func (f *EntityFeed) List(_ context.Context) ([]capability.Capabilities, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]capability.Capabilities, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

// Run connects and consumes until the context is canceled, reconnecting
// with a flat backoff on error.
func (f *EntityFeed) Run(ctx context.Context) {
	for {
		if err := f.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("entity feed: %v; reconnecting", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

func (f *EntityFeed) runOnce(ctx context.Context) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := f.authenticate(conn); err != nil {
		return err
	}

	const (
		statesID    = 1
		subscribeID = 2
	)
	if err := f.send(conn, map[string]any{"id": statesID, "type": "get_states"}); err != nil {
		return err
	}
	if err := f.send(conn, map[string]any{"id": subscribeID, "type": "subscribe_events", "event_type": "state_changed"}); err != nil {
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(feedPongWait)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(feedPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait))
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		switch msg.Type {
		case "result":
			if msg.ID == statesID && msg.Success {
				f.seed(msg.Result)
			}
		case "event":
			f.applyEvent(msg.Event)
		}
	}
}

func (f *EntityFeed) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("auth: unexpected greeting %q", hello.Type)
	}
	if err := f.send(conn, map[string]string{"type": "auth", "access_token": f.token}); err != nil {
		return err
	}
	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if reply.Type != "auth_ok" {
		return fmt.Errorf("auth: rejected (%s)", reply.Type)
	}
	return nil
}

func (f *EntityFeed) send(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(feedWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (f *EntityFeed) seed(raw json.RawMessage) {
	var states []State
	if err := json.Unmarshal(raw, &states); err != nil {
		log.Printf("entity feed: decode states: %v", err)
		return
	}
	f.mu.Lock()
	for _, st := range states {
		f.byID[st.EntityID] = capability.FromAttributes(st.EntityID, st.Attributes)
	}
	f.mu.Unlock()
	log.Printf("entity feed: seeded %d entities", len(states))
}

func (f *EntityFeed) applyEvent(raw json.RawMessage) {
	var ev struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string `json:"entity_id"`
			NewState *State `json:"new_state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil || ev.EventType != "state_changed" {
		return
	}
	f.mu.Lock()
	var notify func(string)
	if ev.Data.NewState == nil {
		delete(f.byID, ev.Data.EntityID)
	} else {
		f.byID[ev.Data.EntityID] = capability.FromAttributes(ev.Data.EntityID, ev.Data.NewState.Attributes)
	}
	notify = f.onChange
	f.mu.Unlock()
	if notify != nil {
		notify(ev.Data.EntityID)
	}
}
