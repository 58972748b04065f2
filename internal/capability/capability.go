package capability

import (
	"context"
	"sort"
	"strings"
)

// Capabilities describes what one entity can actually do: which attributes
// it supports, numeric ranges, and enumerated values. The refinement and
// generation layers treat this as the ground truth when judging whether a
// requested change is achievable.
type Capabilities struct {
	EntityID     string                `json:"entity_id"`
	FriendlyName string                `json:"friendly_name,omitempty"`
	Domain       string                `json:"domain"`
	Attributes   []string              `json:"supported_attributes"`
	Ranges       map[string][2]float64 `json:"ranges,omitempty"`
	EnumValues   map[string][]string   `json:"enum_values,omitempty"`
}

// Supports reports whether the entity supports the named attribute.
func (c Capabilities) Supports(attr string) bool {
	attr = strings.ToLower(strings.TrimSpace(attr))
	for _, a := range c.Attributes {
		if strings.ToLower(a) == attr {
			return true
		}
	}
	return false
}

// Registry resolves entity ids to capability snapshots.
type Registry interface {
	Lookup(ctx context.Context, entityID string) (Capabilities, bool, error)
	List(ctx context.Context) ([]Capabilities, error)
}

// Static is a fixed in-memory registry, used for seeding and tests.
type Static struct {
	byID map[string]Capabilities
}

func NewStatic(caps ...Capabilities) *Static {
	m := make(map[string]Capabilities, len(caps))
	for _, c := range caps {
		m[c.EntityID] = c
	}
	return &Static{byID: m}
}

func (s *Static) Lookup(_ context.Context, entityID string) (Capabilities, bool, error) {
	c, ok := s.byID[strings.TrimSpace(entityID)]
	return c, ok, nil
}

func (s *Static) List(_ context.Context) ([]Capabilities, error) {
	out := make([]Capabilities, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// FromAttributes derives a capability snapshot from a raw entity state
// attribute map as reported by the automation platform.
func FromAttributes(entityID string, attrs map[string]any) Capabilities {
	c := Capabilities{
		EntityID:   strings.TrimSpace(entityID),
		Ranges:     map[string][2]float64{},
		EnumValues: map[string][]string{},
	}
	if i := strings.IndexByte(c.EntityID, '.'); i > 0 {
		c.Domain = c.EntityID[:i]
	}
	if v, ok := attrs["friendly_name"].(string); ok {
		c.FriendlyName = v
	}

	seen := map[string]bool{}
	add := func(attr string) {
		if attr == "" || seen[attr] {
			return
		}
		seen[attr] = true
		c.Attributes = append(c.Attributes, attr)
	}

	for key, v := range attrs {
		switch key {
		case "friendly_name", "icon", "device_class":
			continue
		case "supported_color_modes":
			modes := stringSlice(v)
			c.EnumValues["color_mode"] = modes
			for _, m := range modes {
				switch m {
				case "hs", "rgb", "rgbw", "rgbww", "xy":
					add("color")
				case "color_temp":
					add("color_temp")
				case "brightness", "white":
					add("brightness")
				}
			}
		case "effect_list":
			c.EnumValues["effect"] = stringSlice(v)
			add("effect")
		case "brightness":
			add("brightness")
			c.Ranges["brightness_pct"] = [2]float64{0, 100}
		case "min_temp":
			if f, ok := floatValue(v); ok {
				r := c.Ranges["temperature"]
				r[0] = f
				c.Ranges["temperature"] = r
				add("temperature")
			}
		case "max_temp":
			if f, ok := floatValue(v); ok {
				r := c.Ranges["temperature"]
				r[1] = f
				c.Ranges["temperature"] = r
				add("temperature")
			}
		case "hvac_modes":
			c.EnumValues["hvac_mode"] = stringSlice(v)
			add("hvac_mode")
		case "fan_modes":
			c.EnumValues["fan_mode"] = stringSlice(v)
			add("fan_mode")
		case "preset_modes":
			c.EnumValues["preset_mode"] = stringSlice(v)
			add("preset_mode")
		case "percentage":
			add("percentage")
			c.Ranges["percentage"] = [2]float64{0, 100}
		case "flash":
			add("flash")
		default:
			add(key)
		}
	}
	if len(c.Ranges) == 0 {
		c.Ranges = nil
	}
	if len(c.EnumValues) == 0 {
		c.EnumValues = nil
	}
	sort.Strings(c.Attributes)
	return c
}

func stringSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func floatValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
