package safety

import (
	"fmt"
	"strings"

	"suggestify/internal/automation"
)

// Result is the verdict on one candidate automation. Safe=false means the
// caller must not materialize anything on the platform.
type Result struct {
	Safe         bool     `json:"safe"`
	Warnings     []string `json:"warnings,omitempty"`
	ErrorDetails string   `json:"error_details,omitempty"`
}

// Services that can take down or damage the installation. A generated
// automation has no business calling any of these.
var deniedServices = map[string]bool{
	"homeassistant.stop":      true,
	"homeassistant.restart":   true,
	"recorder.purge":          true,
	"recorder.purge_entities": true,
	"hassio.host_shutdown":    true,
	"hassio.host_reboot":      true,
	"hassio.addon_stop":       true,
	"hassio.addon_uninstall":  true,
	"backup.create":           false, // noisy but not destructive
	"update.install":          true,
}

var deniedDomains = map[string]bool{
	"shell_command": true,
	"command_line":  true,
	"python_script": true,
}

const maxRepeatCount = 50

// Validate runs all rules against the candidate code. It is pure and
// synchronous; callers gate every platform write on Result.Safe.
func Validate(code string) Result {
	doc, err := automation.Decode(code)
	if err != nil {
		return Result{Safe: false, ErrorDetails: err.Error()}
	}
	return ValidateDocument(doc)
}

func ValidateDocument(doc *automation.Document) Result {
	if doc == nil {
		return Result{Safe: false, ErrorDetails: "empty automation document"}
	}
	if len(doc.Triggers) == 0 {
		return Result{Safe: false, ErrorDetails: "automation has no trigger"}
	}
	if len(doc.Actions) == 0 {
		return Result{Safe: false, ErrorDetails: "automation has no action"}
	}

	var warnings []string

	for _, act := range doc.Actions {
		svc := act.Service()
		if svc == "" {
			if _, ok := act["repeat"]; ok {
				if detail := checkRepeat(act); detail != "" {
					return Result{Safe: false, ErrorDetails: detail}
				}
				if w := repeatWarning(act); w != "" {
					warnings = append(warnings, w)
				}
				continue
			}
			if _, ok := act["delay"]; ok {
				continue
			}
			warnings = append(warnings, "action without a service call")
			continue
		}
		if deniedServices[svc] {
			return Result{Safe: false, ErrorDetails: fmt.Sprintf("service %s is not allowed in generated automations", svc)}
		}
		if deniedDomains[automation.Domain(svc)] {
			return Result{Safe: false, ErrorDetails: fmt.Sprintf("service domain %s is not allowed in generated automations", automation.Domain(svc))}
		}
	}

	if detail := checkSelfTrigger(doc); detail != "" {
		return Result{Safe: false, ErrorDetails: detail}
	}

	warnings = append(warnings, triggerWarnings(doc)...)
	if len(doc.Actions) > 10 {
		warnings = append(warnings, fmt.Sprintf("automation performs %d actions; consider splitting it", len(doc.Actions)))
	}

	return Result{Safe: true, Warnings: warnings}
}

// checkSelfTrigger rejects automations whose action toggles an entity that
// also appears in an unguarded state trigger: the classic infinite loop.
func checkSelfTrigger(doc *automation.Document) string {
	if len(doc.Conditions) > 0 {
		// A condition gate breaks the loop on re-entry often enough;
		// flagged via warnings elsewhere, not a hard failure.
		return ""
	}
	triggered := map[string]bool{}
	for _, trg := range doc.Triggers {
		if trg.Platform() != "state" {
			continue
		}
		for _, id := range trg.EntityIDs() {
			triggered[id] = true
		}
	}
	for _, act := range doc.Actions {
		for _, id := range act.EntityIDs() {
			if triggered[id] {
				return fmt.Sprintf("action on %s re-fires its own state trigger without a condition gate", id)
			}
		}
	}
	return ""
}

func checkRepeat(act automation.Block) string {
	rep, ok := act["repeat"].(map[string]any)
	if !ok {
		return "malformed repeat block"
	}
	if _, ok := rep["count"]; ok {
		return ""
	}
	if _, ok := rep["while"]; ok {
		return ""
	}
	if _, ok := rep["until"]; ok {
		return ""
	}
	if _, ok := rep["for_each"]; ok {
		return ""
	}
	return "repeat block without count, while, until, or for_each bound"
}

func repeatWarning(act automation.Block) string {
	rep, _ := act["repeat"].(map[string]any)
	if rep == nil {
		return ""
	}
	if n, ok := numeric(rep["count"]); ok && n > maxRepeatCount {
		return fmt.Sprintf("repeat count %d is unusually high", int(n))
	}
	return ""
}

func triggerWarnings(doc *automation.Document) []string {
	var out []string
	for _, trg := range doc.Triggers {
		if trg.Platform() != "time_pattern" {
			continue
		}
		sec := fmt.Sprintf("%v", trg["seconds"])
		if strings.HasPrefix(sec, "/") || sec == "*" {
			out = append(out, "time_pattern trigger fires every few seconds; this automation will be very chatty")
		}
	}
	return out
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
