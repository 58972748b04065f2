package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"suggestify/internal/automation"
	"suggestify/internal/capability"
	"suggestify/internal/generate"
	"suggestify/internal/llm"
	"suggestify/internal/refine"
	"suggestify/internal/selfcorrect"
	"suggestify/internal/suggestion"
	"suggestify/internal/tester"
)

type platformEntry struct {
	doc     *automation.Document
	enabled bool
}

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	created   map[string]platformEntry
	updates   []string
	triggers  []string
	createErr error
	deleteErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{created: make(map[string]platformEntry)}
}

func (g *fakeGateway) Create(_ context.Context, doc *automation.Document, enabled bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.seq++
	id := "automation.test_" + string(rune('a'+g.seq-1))
	g.created[id] = platformEntry{doc: doc, enabled: enabled}
	return id, nil
}

func (g *fakeGateway) Update(_ context.Context, externalID string, doc *automation.Document, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.created[externalID]; !ok {
		return errors.New("unknown automation")
	}
	g.created[externalID] = platformEntry{doc: doc, enabled: enabled}
	g.updates = append(g.updates, externalID)
	return nil
}

func (g *fakeGateway) SetEnabled(_ context.Context, externalID string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.created[externalID]
	if !ok {
		return errors.New("unknown automation")
	}
	e.enabled = enabled
	g.created[externalID] = e
	return nil
}

func (g *fakeGateway) Trigger(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggers = append(g.triggers, externalID)
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.created, externalID)
	return nil
}

// scriptGen returns scripted candidates in order; the last repeats.
type scriptGen struct {
	mu      sync.Mutex
	results []*generate.Result
	err     error
	calls   int
}

func (g *scriptGen) Generate(context.Context, generate.Request) (*generate.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	n := g.calls - 1
	if n >= len(g.results) {
		n = len(g.results) - 1
	}
	return g.results[n], nil
}

func safeDoc() *automation.Document {
	return &automation.Document{
		Alias: "Porch light on arrival",
		Mode:  "single",
		Triggers: []automation.Block{
			{"platform": "state", "entity_id": "person.home_owner", "to": "home"},
		},
		Actions: []automation.Block{
			{"service": "light.turn_on", "target": map[string]any{"entity_id": "light.porch"}},
		},
	}
}

func unsafeDoc() *automation.Document {
	return &automation.Document{
		Alias: "Nightly restart",
		Triggers: []automation.Block{
			{"platform": "time", "at": "03:00:00"},
		},
		Actions: []automation.Block{
			{"service": "homeassistant.restart"},
		},
	}
}

func candidate(doc *automation.Document, score int) *generate.Result {
	code, err := doc.Encode()
	if err != nil {
		panic(err)
	}
	return &generate.Result{Code: code, Document: doc, SafetyScore: score}
}

type fixedRec struct{ out string }

func (r fixedRec) Reconstruct(context.Context, string) (string, error) { return r.out, nil }

type scriptScore struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (s *scriptScore) Score(context.Context, string, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.i
	if n >= len(s.vals) {
		n = len(s.vals) - 1
	}
	s.i++
	return s.vals[n], nil
}

func porchLight() capability.Capabilities {
	return capability.Capabilities{
		EntityID:     "light.porch",
		FriendlyName: "Porch Light",
		Domain:       "light",
		Attributes:   []string{"brightness"},
	}
}

type fixture struct {
	svc     *Service
	store   *suggestion.Store
	gateway *fakeGateway
	llm     *llm.FakeClient
	gen     *scriptGen
}

func newFixture(t *testing.T, corrector *selfcorrect.Controller) *fixture {
	t.Helper()
	store := suggestion.New(filepath.Join(t.TempDir(), "suggestions.json"))
	fake := llm.NewFakeClient()
	gw := newFakeGateway()
	gen := &scriptGen{results: []*generate.Result{candidate(safeDoc(), 92)}}
	svc := New(store,
		refine.NewProcessor(fake),
		gen,
		corrector,
		gw,
		capability.NewStatic(porchLight()),
		nil,
	)
	return &fixture{svc: svc, store: store, gateway: gw, llm: fake, gen: gen}
}

func (f *fixture) seed(t *testing.T) suggestion.Suggestion {
	t.Helper()
	sg, err := f.svc.Seed(context.Background(), Proposal{
		Description:     "turn on the porch light when I get home after sunset",
		TriggerSummary:  "arrival after sunset",
		ActionSummary:   "porch light on",
		Confidence:      0.91,
		DevicesInvolved: []string{"light.porch"},
		Category:        "lighting",
	})
	tester.NoErr(t, err)
	return sg
}

func TestSeedCreatesDraft(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	tester.Eq(t, sg.Status, suggestion.StatusDraft)
	tester.True(t, sg.ID != "", "id minted")

	stored, ok := f.store.Get(sg.ID)
	tester.True(t, ok, "persisted")
	tester.Eq(t, stored.RefinementCount, 0)

	_, err := f.svc.Seed(context.Background(), Proposal{})
	tester.Err(t, err)
}

func TestRefineValidEdit(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	f.llm.Script("refine", map[string]any{
		"updated_description": "turn on the porch light at 30% when I get home after sunset",
		"changes": []map[string]any{
			{"summary": "set brightness to 30%", "entity_id": "light.porch", "attribute": "brightness"},
		},
		"validation": map[string]any{"ok": true},
	})

	res, err := f.svc.Refine(context.Background(), sg.ID, "dim it to 30%", nil)
	tester.NoErr(t, err)
	tester.True(t, res.Outcome.Validation.OK, "edit accepted")
	tester.Eq(t, res.Suggestion.Status, suggestion.StatusRefining)
	tester.Eq(t, res.Suggestion.RefinementCount, 1)
	tester.Eq(t, res.Suggestion.Description, "turn on the porch light at 30% when I get home after sunset")
	tester.Eq(t, len(res.Suggestion.ConversationHistory), 1)
	tester.Eq(t, res.Suggestion.ConversationHistory[0].UserInput, "dim it to 30%")
}

func TestRefineInvalidEditStillEntersRefining(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	f.llm.Script("refine", map[string]any{
		"updated_description": "",
		"changes":             []map[string]any{},
		"validation": map[string]any{
			"ok":       false,
			"warnings": []string{"the porch light cannot change color"},
		},
	})

	res, err := f.svc.Refine(context.Background(), sg.ID, "make it purple", nil)
	tester.NoErr(t, err)
	tester.False(t, res.Outcome.Validation.OK, "edit rejected")
	tester.Eq(t, res.Suggestion.Status, suggestion.StatusRefining)
	tester.Eq(t, res.Suggestion.RefinementCount, 0)
	tester.Eq(t, res.Suggestion.Description, sg.Description)
	tester.Eq(t, len(res.Suggestion.ConversationHistory), 1)
	tester.False(t, res.Suggestion.ConversationHistory[0].Valid, "recorded as invalid turn")
}

func TestRefineBackendErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	f.llm.Fail(errors.New("model unavailable"))

	_, err := f.svc.Refine(context.Background(), sg.ID, "dim it", nil)
	tester.Err(t, err)

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.Status, suggestion.StatusDraft)
	tester.Eq(t, len(stored.ConversationHistory), 0)
}

func TestRefineHistoryIsAppendOnly(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	f.llm.Script("refine", map[string]any{
		"updated_description": "turn on the porch light brightly when I get home after sunset",
		"changes":             []map[string]any{{"summary": "full brightness"}},
		"validation":          map[string]any{"ok": true},
	}).Script("refine", map[string]any{
		"updated_description": "turn on the porch light briefly when I get home after sunset",
		"changes":             []map[string]any{{"summary": "turn off after 5 minutes"}},
		"validation":          map[string]any{"ok": true},
	})

	_, err := f.svc.Refine(context.Background(), sg.ID, "full brightness", nil)
	tester.NoErr(t, err)
	res, err := f.svc.Refine(context.Background(), sg.ID, "only for 5 minutes", nil)
	tester.NoErr(t, err)

	tester.Eq(t, len(res.Suggestion.ConversationHistory), 2)
	tester.Eq(t, res.Suggestion.ConversationHistory[0].UserInput, "full brightness")
	tester.Eq(t, res.Suggestion.ConversationHistory[1].UserInput, "only for 5 minutes")
	tester.Eq(t, res.Suggestion.RefinementCount, 2)
}

func TestGenerateTestModeCreatesDisabled(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeTest)
	tester.NoErr(t, err)
	tester.Eq(t, env.Status, suggestion.StatusYAMLGenerated)
	tester.True(t, env.Safe, "safe")
	tester.True(t, env.AutomationID != "", "external id reported")
	tester.True(t, env.ReverseEngineering == nil, "no self-correction block")

	entry := f.gateway.created[env.AutomationID]
	tester.False(t, entry.enabled, "test mode creates disabled")

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.Status, suggestion.StatusYAMLGenerated)
	tester.True(t, stored.AutomationCode != "", "code stored")
	tester.True(t, stored.SafetyScore != nil && *stored.SafetyScore == 92, "score stored")
	tester.Eq(t, stored.ExternalAutomationID, env.AutomationID)
	tester.Eq(t, stored.CodeRevision, 1)
}

func TestApproveCreatesEnabled(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeApprove)
	tester.NoErr(t, err)
	tester.Eq(t, env.Status, suggestion.StatusDeployed)
	tester.True(t, f.gateway.created[env.AutomationID].enabled, "approve creates enabled")

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.Status, suggestion.StatusDeployed)
}

func TestApproveAfterTestReusesPlatformObject(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeTest)
	tester.NoErr(t, err)
	tester.False(t, f.gateway.created[env.AutomationID].enabled, "disabled after test")

	env2, err := f.svc.Generate(context.Background(), sg.ID, ModeApprove)
	tester.NoErr(t, err)
	tester.Eq(t, env2.Status, suggestion.StatusDeployed)
	tester.Eq(t, env2.AutomationID, env.AutomationID, "same platform object")
	tester.Eq(t, len(f.gateway.created), 1)
	tester.True(t, f.gateway.created[env.AutomationID].enabled, "enabled on approve")
}

func TestGenerateBlockedLeavesSuggestionUntouched(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	f.gen.results = []*generate.Result{candidate(unsafeDoc(), 70)}

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeApprove)
	tester.NoErr(t, err)
	tester.Eq(t, env.Status, suggestion.StatusBlocked)
	tester.False(t, env.Safe, "blocked")
	tester.True(t, env.ErrorDetails != "", "block reason reported")
	tester.Eq(t, len(f.gateway.created), 0)

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.Status, suggestion.StatusDraft)
	tester.Eq(t, stored.AutomationCode, "")
	tester.True(t, stored.SafetyScore == nil, "no score persisted")
}

func TestGenerateFromRejectedRefused(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	_, err := f.svc.Reject(context.Background(), sg.ID, "not wanted")
	tester.NoErr(t, err)

	_, err = f.svc.Generate(context.Background(), sg.ID, ModeTest)
	var te *TransitionError
	tester.True(t, errors.As(err, &te), "transition error")
	tester.Eq(t, te.From, suggestion.StatusRejected)
}

func TestDeploymentFailurePreservesState(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	f.gateway.createErr = errors.New("platform unreachable")

	_, err := f.svc.Generate(context.Background(), sg.ID, ModeApprove)
	tester.Err(t, err)

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.Status, suggestion.StatusDraft)
	tester.Eq(t, stored.AutomationCode, "")
	tester.Eq(t, stored.ExternalAutomationID, "")
}

func TestRejectIdempotentAndNotFromDeployed(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)

	got, err := f.svc.Reject(context.Background(), sg.ID, "too noisy")
	tester.NoErr(t, err)
	tester.Eq(t, got.Status, suggestion.StatusRejected)
	tester.Eq(t, got.RejectionReason, "too noisy")

	again, err := f.svc.Reject(context.Background(), sg.ID, "still no")
	tester.NoErr(t, err)
	tester.Eq(t, again.RejectionReason, "too noisy", "second reject is a no-op")

	deployed := f.seed(t)
	_, err = f.svc.Generate(context.Background(), deployed.ID, ModeApprove)
	tester.NoErr(t, err)
	_, err = f.svc.Reject(context.Background(), deployed.ID, "nope")
	tester.Err(t, err)
}

func TestRejectAfterTestClearsCodeAndPlatformObject(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeTest)
	tester.NoErr(t, err)
	tester.Eq(t, len(f.gateway.created), 1)

	got, err := f.svc.Reject(context.Background(), sg.ID, "not what I meant")
	tester.NoErr(t, err)
	tester.Eq(t, got.Status, suggestion.StatusRejected)
	tester.Eq(t, got.AutomationCode, "")
	tester.True(t, got.SafetyScore == nil, "score cleared")
	tester.Eq(t, got.ExternalAutomationID, "")
	tester.Eq(t, len(f.gateway.created), 0, "disabled platform object removed")

	_, ok := f.gateway.created[env.AutomationID]
	tester.False(t, ok, "tested automation gone from platform")
}

func TestRejectDeleteFailurePreservesState(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)

	_, err := f.svc.Generate(context.Background(), sg.ID, ModeTest)
	tester.NoErr(t, err)
	f.gateway.deleteErr = errors.New("platform unreachable")

	_, err = f.svc.Reject(context.Background(), sg.ID, "nope")
	tester.Err(t, err)

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.Status, suggestion.StatusYAMLGenerated)
	tester.True(t, stored.AutomationCode != "", "code kept until teardown succeeds")
	tester.True(t, stored.ExternalAutomationID != "", "external id kept until teardown succeeds")
}

func TestRedeployUpdatesInPlace(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	env, err := f.svc.Generate(context.Background(), sg.ID, ModeApprove)
	tester.NoErr(t, err)

	env2, err := f.svc.Redeploy(context.Background(), sg.ID)
	tester.NoErr(t, err)
	tester.Eq(t, env2.Status, suggestion.StatusDeployed)
	tester.Eq(t, env2.AutomationID, env.AutomationID, "same platform object")
	tester.Eq(t, len(f.gateway.updates), 1)
	tester.Eq(t, len(f.gateway.created), 1)

	stored, _ := f.store.Get(sg.ID)
	tester.Eq(t, stored.CodeRevision, 2)
}

func TestRedeployRequiresDeployed(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	_, err := f.svc.Redeploy(context.Background(), sg.ID)
	var te *TransitionError
	tester.True(t, errors.As(err, &te), "transition error")
}

func TestGenerateWithSelfCorrection(t *testing.T) {
	f := newFixture(t, nil)
	gen := &scriptGen{results: []*generate.Result{candidate(safeDoc(), 88)}}
	corr := selfcorrect.New(gen,
		fixedRec{out: "turns on the porch light when someone arrives home"},
		&scriptScore{vals: []float64{0.55, 0.93}},
		3, 0.80)
	f.svc.corrector = corr
	f.svc.generator = gen
	sg := f.seed(t)

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeTest)
	tester.NoErr(t, err)
	tester.Eq(t, env.Status, suggestion.StatusYAMLGenerated)
	tester.True(t, env.ReverseEngineering != nil, "self-correction reported")
	tester.True(t, env.ReverseEngineering.Enabled, "enabled flag")
	tester.Eq(t, env.ReverseEngineering.IterationsCompleted, 2)
	tester.Eq(t, env.ReverseEngineering.MaxIterations, 3)
	tester.Eq(t, env.ReverseEngineering.FinalSimilarity, 0.93)
	tester.Eq(t, len(env.Warnings), 0)
}

func TestGenerateUnconvergedCarriesWarning(t *testing.T) {
	f := newFixture(t, nil)
	gen := &scriptGen{results: []*generate.Result{candidate(safeDoc(), 88)}}
	corr := selfcorrect.New(gen,
		fixedRec{out: "does something vaguely related to lights"},
		&scriptScore{vals: []float64{0.40}},
		2, 0.80)
	f.svc.corrector = corr
	f.svc.generator = gen
	sg := f.seed(t)

	env, err := f.svc.Generate(context.Background(), sg.ID, ModeTest)
	tester.NoErr(t, err)
	tester.Eq(t, env.Status, suggestion.StatusYAMLGenerated, "best effort still deploys")
	tester.True(t, len(env.Warnings) >= 1, "convergence warning present")
	tester.False(t, env.ReverseEngineering == nil, "run reported")
	tester.Eq(t, env.ReverseEngineering.IterationsCompleted, 2)
}

func TestTriggerRequiresExternalID(t *testing.T) {
	f := newFixture(t, nil)
	sg := f.seed(t)
	tester.Err(t, f.svc.Trigger(context.Background(), sg.ID))

	_, err := f.svc.Generate(context.Background(), sg.ID, ModeApprove)
	tester.NoErr(t, err)
	tester.NoErr(t, f.svc.Trigger(context.Background(), sg.ID))
	tester.Eq(t, len(f.gateway.triggers), 1)
}

func TestUnknownSuggestion(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Refine(context.Background(), "missing", "dim it", nil)
	tester.True(t, errors.Is(err, suggestion.ErrNotFound), "refine not found")
	_, err = f.svc.Generate(context.Background(), "missing", ModeTest)
	tester.True(t, errors.Is(err, suggestion.ErrNotFound), "generate not found")
	_, err = f.svc.Reject(context.Background(), "missing", "")
	tester.True(t, errors.Is(err, suggestion.ErrNotFound), "reject not found")
}
