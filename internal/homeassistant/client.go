package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"suggestify/internal/automation"
)

// Gateway is what the orchestration layer needs from the automation
// platform. Create returns the platform-side id; a test-created automation
// is guaranteed disabled or the error says otherwise.
type Gateway interface {
	Create(ctx context.Context, doc *automation.Document, enabled bool) (string, error)
	Update(ctx context.Context, externalID string, doc *automation.Document, enabled bool) error
	SetEnabled(ctx context.Context, externalID string, enabled bool) error
	Trigger(ctx context.Context, externalID string) error
	Delete(ctx context.Context, externalID string) error
}

// APIError is a non-2xx platform response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("home assistant: status %d: %s", e.Status, e.Body)
}

// DisableFailedError reports the safety-relevant partial failure: the
// automation was created but could not be disabled afterwards, so a live
// object is running that the caller asked to keep off.
type DisableFailedError struct {
	ExternalID string
	Err        error
}

func (e *DisableFailedError) Error() string {
	return fmt.Sprintf("home assistant: automation %s created but left enabled: %v", e.ExternalID, e.Err)
}

func (e *DisableFailedError) Unwrap() error { return e.Err }

// Client talks to the Home Assistant REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Create writes the automation config and then explicitly asserts the
// desired enabled state. The platform may default new automations to
// enabled; the disable call is made regardless and its failure is reported
// as DisableFailedError rather than swallowed.
func (c *Client) Create(ctx context.Context, doc *automation.Document, enabled bool) (string, error) {
	externalID := uuid.NewString()
	if err := c.putConfig(ctx, externalID, doc); err != nil {
		return "", err
	}
	if err := c.SetEnabled(ctx, externalID, enabled); err != nil {
		if !enabled {
			return externalID, &DisableFailedError{ExternalID: externalID, Err: err}
		}
		return externalID, err
	}
	return externalID, nil
}

// Update overwrites an existing automation config in place, preserving the
// external id, then re-asserts the enabled state.
func (c *Client) Update(ctx context.Context, externalID string, doc *automation.Document, enabled bool) error {
	if err := c.putConfig(ctx, externalID, doc); err != nil {
		return err
	}
	if err := c.SetEnabled(ctx, externalID, enabled); err != nil {
		if !enabled {
			return &DisableFailedError{ExternalID: externalID, Err: err}
		}
		return err
	}
	return nil
}

func (c *Client) putConfig(ctx context.Context, externalID string, doc *automation.Document) error {
	cfg := *doc
	cfg.ID = externalID
	body, err := json.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("home assistant: encode config: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/config/automation/config/"+url.PathEscape(externalID), body, nil)
}

func (c *Client) SetEnabled(ctx context.Context, externalID string, enabled bool) error {
	entityID, err := c.resolveEntity(ctx, externalID)
	if err != nil {
		return err
	}
	svc := "turn_off"
	if enabled {
		svc = "turn_on"
	}
	body, _ := json.Marshal(map[string]string{"entity_id": entityID})
	return c.do(ctx, http.MethodPost, "/api/services/automation/"+svc, body, nil)
}

func (c *Client) Trigger(ctx context.Context, externalID string) error {
	entityID, err := c.resolveEntity(ctx, externalID)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"entity_id": entityID})
	return c.do(ctx, http.MethodPost, "/api/services/automation/trigger", body, nil)
}

func (c *Client) Delete(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodDelete, "/api/config/automation/config/"+url.PathEscape(externalID), nil, nil)
}

// resolveEntity maps the config id to the automation's entity id. The
// platform assigns entity ids from the alias, so the id attribute on the
// state object is the stable join key.
func (c *Client) resolveEntity(ctx context.Context, externalID string) (string, error) {
	states, err := c.States(ctx)
	if err != nil {
		return "", err
	}
	for _, st := range states {
		if !strings.HasPrefix(st.EntityID, "automation.") {
			continue
		}
		if id, ok := st.Attributes["id"].(string); ok && id == externalID {
			return st.EntityID, nil
		}
	}
	return "", fmt.Errorf("home assistant: no automation entity with id %s", externalID)
}

// State is one entity state as reported by /api/states.
type State struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (c *Client) States(ctx context.Context) ([]State, error) {
	var out []State
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("home assistant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("home assistant: decode %s: %w", path, err)
		}
	}
	return nil
}
