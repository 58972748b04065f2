package homeassistant

import (
	"context"
	"strings"

	"suggestify/internal/capability"
)

// StatesRegistry implements capability.Registry on top of the states API.
// Wrap it in capability.Cached; every Lookup here is a full platform round
// trip.
type StatesRegistry struct {
	client *Client
}

func NewStatesRegistry(client *Client) *StatesRegistry {
	return &StatesRegistry{client: client}
}

func (r *StatesRegistry) Lookup(ctx context.Context, entityID string) (capability.Capabilities, bool, error) {
	entityID = strings.TrimSpace(entityID)
	states, err := r.client.States(ctx)
	if err != nil {
		return capability.Capabilities{}, false, err
	}
	for _, st := range states {
		if st.EntityID == entityID {
			return capability.FromAttributes(st.EntityID, st.Attributes), true, nil
		}
	}
	return capability.Capabilities{}, false, nil
}

func (r *StatesRegistry) List(ctx context.Context) ([]capability.Capabilities, error) {
	states, err := r.client.States(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]capability.Capabilities, 0, len(states))
	for _, st := range states {
		out = append(out, capability.FromAttributes(st.EntityID, st.Attributes))
	}
	return out, nil
}
