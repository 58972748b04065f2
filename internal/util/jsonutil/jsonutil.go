package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// UnmarshalModel decodes JSON produced by a language model. Models sometimes
// wrap the payload in a markdown code fence or double-escape unicode; both
// are tolerated before giving up.
func UnmarshalModel(raw []byte, v any) error {
	raw = stripFence(raw)
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}
	norm, err := normalizeEscapes(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(norm, v)
}

// stripFence removes a surrounding ```json ... ``` block if present.
func stripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	if i := bytes.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

// normalizeEscapes handles payloads delivered as a JSON-encoded string of
// JSON, e.g. "\"{\\\"ok\\\":true}\"".
func normalizeEscapes(raw []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	return []byte(s), nil
}
