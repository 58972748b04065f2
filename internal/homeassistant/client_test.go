package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"suggestify/internal/automation"
	"suggestify/internal/tester"
)

// fakeHA emulates the slice of the platform API the gateway touches.
type fakeHA struct {
	mu          sync.Mutex
	configs     map[string]map[string]any // external id -> config
	serviceLog  []string                  // e.g. "automation.turn_off:automation.test"
	failDisable bool
	srv         *httptest.Server
}

func newFakeHA(t *testing.T) *fakeHA {
	f := &fakeHA{configs: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config/automation/config/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/config/automation/config/")
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var cfg map[string]any
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
			f.configs[id] = cfg
			_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
		case http.MethodDelete:
			delete(f.configs, id)
			_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/states", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var states []State
		for id, cfg := range f.configs {
			alias, _ := cfg["alias"].(string)
			states = append(states, State{
				EntityID:   "automation." + slug(alias),
				State:      "on",
				Attributes: map[string]any{"id": id, "friendly_name": alias},
			})
		}
		states = append(states, State{
			EntityID: "light.living_room",
			State:    "off",
			Attributes: map[string]any{
				"friendly_name":         "Living Room",
				"supported_color_modes": []any{"brightness"},
			},
		})
		_ = json.NewEncoder(w).Encode(states)
	})
	mux.HandleFunc("/api/services/automation/", func(w http.ResponseWriter, r *http.Request) {
		svc := strings.TrimPrefix(r.URL.Path, "/api/services/automation/")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if svc == "turn_off" && f.failDisable {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		f.serviceLog = append(f.serviceLog, "automation."+svc+":"+body["entity_id"])
		_ = json.NewEncoder(w).Encode([]any{})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func slug(alias string) string {
	return strings.ReplaceAll(strings.ToLower(alias), " ", "_")
}

func (f *fakeHA) client() *Client {
	return NewClient(f.srv.URL, "test-token", 5*time.Second)
}

func (f *fakeHA) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.serviceLog...)
}

var testDoc = &automation.Document{
	Alias:    "Test Automation",
	Triggers: []automation.Block{{"platform": "time", "at": "07:00:00"}},
	Actions:  []automation.Block{{"service": "light.turn_on", "entity_id": "light.living_room"}},
}

func TestCreateDisabledExplicitlyTurnsOff(t *testing.T) {
	ha := newFakeHA(t)
	id, err := ha.client().Create(context.Background(), testDoc, false)
	tester.NoErr(t, err)
	tester.True(t, id != "", "external id minted")

	calls := ha.calls()
	tester.Eq(t, len(calls), 1)
	tester.Eq(t, calls[0], "automation.turn_off:automation.test_automation")
}

func TestCreateEnabledTurnsOn(t *testing.T) {
	ha := newFakeHA(t)
	_, err := ha.client().Create(context.Background(), testDoc, true)
	tester.NoErr(t, err)
	calls := ha.calls()
	tester.Eq(t, calls[0], "automation.turn_on:automation.test_automation")
}

func TestCreateDisableFailureIsDistinct(t *testing.T) {
	ha := newFakeHA(t)
	ha.failDisable = true
	id, err := ha.client().Create(context.Background(), testDoc, false)
	var dErr *DisableFailedError
	tester.True(t, errors.As(err, &dErr), "expected DisableFailedError")
	tester.Eq(t, dErr.ExternalID, id, "error names the live object")
}

func TestUpdatePreservesID(t *testing.T) {
	ha := newFakeHA(t)
	c := ha.client()
	id, err := c.Create(context.Background(), testDoc, true)
	tester.NoErr(t, err)

	updated := *testDoc
	updated.Description = "updated"
	tester.NoErr(t, c.Update(context.Background(), id, &updated, true))

	ha.mu.Lock()
	cfg := ha.configs[id]
	ha.mu.Unlock()
	tester.Eq(t, cfg["description"], "updated")
}

func TestTriggerAndDelete(t *testing.T) {
	ha := newFakeHA(t)
	c := ha.client()
	id, err := c.Create(context.Background(), testDoc, true)
	tester.NoErr(t, err)

	tester.NoErr(t, c.Trigger(context.Background(), id))
	calls := ha.calls()
	tester.Eq(t, calls[len(calls)-1], "automation.trigger:automation.test_automation")

	tester.NoErr(t, c.Delete(context.Background(), id))
	ha.mu.Lock()
	_, exists := ha.configs[id]
	ha.mu.Unlock()
	tester.False(t, exists, "config removed")
}

func TestSetEnabledUnknownID(t *testing.T) {
	ha := newFakeHA(t)
	err := ha.client().SetEnabled(context.Background(), "no-such-id", false)
	tester.Err(t, err)
}

func TestStatesRegistry(t *testing.T) {
	ha := newFakeHA(t)
	reg := NewStatesRegistry(ha.client())

	caps, ok, err := reg.Lookup(context.Background(), "light.living_room")
	tester.NoErr(t, err)
	tester.True(t, ok, "known entity")
	tester.Eq(t, caps.Domain, "light")
	tester.True(t, caps.Supports("brightness"), "brightness derived")

	_, ok, err = reg.Lookup(context.Background(), "light.nope")
	tester.NoErr(t, err)
	tester.False(t, ok, "unknown entity")
}
