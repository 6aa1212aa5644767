package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/repository"
	"github.com/dohr-michael/cadre/internal/skills"
)

// recorder is a handler that remembers its calls.
type recorder struct {
	mu    sync.Mutex
	calls []skills.Args
	cfgs  []skills.Config
	out   string
	err   error
}

func (r *recorder) handle(_ context.Context, cfg skills.Config, args skills.Args) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	r.cfgs = append(r.cfgs, cfg)
	return r.out, r.err
}

func newRegistry(t *testing.T, defs ...skills.Definition) *skills.Registry {
	t.Helper()
	b := skills.NewBuilder()
	for _, def := range defs {
		if err := b.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	return b.Build()
}

func imageDef(h skills.Handler) skills.Definition {
	return skills.Definition{
		Name:        "image_generation",
		Description: "Draw things.",
		Params: []skills.Param{
			{Name: "size", Type: "string"},
			{Name: "prompt", Type: "string", Required: true},
		},
		Handler: h,
	}
}

func TestParseAndExecute_NoDirective(t *testing.T) {
	d := New(newRegistry(t), nil, Persona{Name: "Alice"})
	text := "Here is the final answer, no tools needed."
	res := d.ParseAndExecute(context.Background(), text)
	if res.Executed {
		t.Error("Executed = true for text without directive")
	}
	if res.Output != text {
		t.Errorf("Output = %q, want original text", res.Output)
	}
}

func TestParseAndExecute_PipeAndCallStylesAgree(t *testing.T) {
	rec := &recorder{out: "ok"}
	reg := newRegistry(t, skills.Definition{Name: "foo", Handler: rec.handle})
	d := New(reg, nil, Persona{Name: "Alice", Skills: map[string]map[string]string{"foo": nil}})

	for _, text := range []string{
		`Let me check. [[CALL_SKILL: foo | {"a": "b"}]]`,
		`[[CALL_SKILL: foo(a="b")]]`,
	} {
		res := d.ParseAndExecute(context.Background(), text)
		if !res.Executed || res.Skill != "foo" || res.Output != "ok" {
			t.Errorf("%q: unexpected result %+v", text, res)
		}
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(rec.calls))
	}
	for i, args := range rec.calls {
		if len(args) != 1 || args["a"] != "b" {
			t.Errorf("call %d args = %v, want {a: b}", i, args)
		}
	}
}

func TestParseAndExecute_SingleQuotedArguments(t *testing.T) {
	rec := &recorder{out: "ok"}
	reg := newRegistry(t, imageDef(rec.handle))
	d := New(reg, nil, Persona{Name: "Mei", Skills: map[string]map[string]string{"image_generation": nil}})

	for _, text := range []string{
		`[[CALL_SKILL: image_generation | {'prompt': 'a cat'}]]`,
		`[[CALL_SKILL: image_generation {'prompt': 'a cat'}]]`,
	} {
		res := d.ParseAndExecute(context.Background(), text)
		if !res.Executed || res.Output != "ok" {
			t.Errorf("%q: unexpected result %+v", text, res)
		}
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(rec.calls))
	}
	for i, args := range rec.calls {
		if args.String("prompt") != "a cat" {
			t.Errorf("call %d args = %v, want prompt=a cat", i, args)
		}
	}
}

func TestParseAndExecute_FuzzyResolution(t *testing.T) {
	rec := &recorder{out: "![Generated Image](assets/img_1.png)"}
	reg := newRegistry(t, imageDef(rec.handle))
	d := New(reg, nil, Persona{Name: "Mei", Skills: map[string]map[string]string{"image_generation": nil}})

	res := d.ParseAndExecute(context.Background(), `[[CALL_SKILL: image_generation_v2 | {"prompt": "logo"}]]`)
	if res.Skill != "image_generation" {
		t.Fatalf("Skill = %q, want image_generation", res.Skill)
	}
	if res.Output != rec.out {
		t.Errorf("Output = %q, want handler output unchanged", res.Output)
	}
}

func TestParseAndExecute_UnknownSkill(t *testing.T) {
	reg := newRegistry(t, imageDef((&recorder{}).handle))
	d := New(reg, nil, Persona{Name: "Mei", Skills: map[string]map[string]string{"image_generation": nil}})

	res := d.ParseAndExecute(context.Background(), `[[CALL_SKILL: teleport | {"to": "mars"}]]`)
	if !res.Executed {
		t.Error("Executed = false for unresolvable skill")
	}
	want := `[ERROR: Skill 'teleport' is not enabled for this agent. Content: teleport | {"to": "mars"}]`
	if res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
}

func TestParseAndExecute_EnabledButNotRegistered(t *testing.T) {
	d := New(newRegistry(t), nil, Persona{Name: "Mei", Skills: map[string]map[string]string{"ghost": nil}})
	res := d.ParseAndExecute(context.Background(), `[[CALL_SKILL: ghost]]`)
	want := "[ERROR: Skill implementation for 'ghost' not found in registry.]"
	if !res.Executed || res.Output != want {
		t.Errorf("got %+v, want output %q", res, want)
	}
}

func TestParseAndExecute_RegisteredButNotEnabled(t *testing.T) {
	rec := &recorder{}
	reg := newRegistry(t, imageDef(rec.handle))
	d := New(reg, nil, Persona{Name: "Bob"})

	res := d.ParseAndExecute(context.Background(), `[[CALL_SKILL: image_generation | {"prompt": "x"}]]`)
	if !strings.HasPrefix(res.Output, "[ERROR: Skill 'image_generation' is not enabled") {
		t.Errorf("Output = %q", res.Output)
	}
	if len(rec.calls) != 0 {
		t.Error("handler ran for a skill the persona has not enabled")
	}
}

func TestParseAndExecute_InvalidJSON(t *testing.T) {
	rec := &recorder{}
	reg := newRegistry(t, imageDef(rec.handle))
	d := New(reg, nil, Persona{Name: "Mei", Skills: map[string]map[string]string{"image_generation": nil}})

	res := d.ParseAndExecute(context.Background(), `[[CALL_SKILL: image_generation | {"prompt": ]]`)
	if !res.Executed || res.Output != "[ERROR: Invalid JSON arguments for skill 'image_generation'.]" {
		t.Errorf("got %+v", res)
	}
	if len(rec.calls) != 0 {
		t.Error("handler ran despite invalid arguments")
	}
}

func TestParseAndExecute_HandlerErrorAndPanic(t *testing.T) {
	failing := skills.Definition{Name: "flaky", Handler: func(context.Context, skills.Config, skills.Args) (string, error) {
		return "", errors.New("upstream 503")
	}}
	panicking := skills.Definition{Name: "boom", Handler: func(context.Context, skills.Config, skills.Args) (string, error) {
		panic("nil map")
	}}
	d := New(newRegistry(t, failing, panicking), nil, Persona{
		Name:   "Alice",
		Skills: map[string]map[string]string{"flaky": nil, "boom": nil},
	})

	res := d.ParseAndExecute(context.Background(), `[[CALL_SKILL: flaky]]`)
	if res.Output != "[ERROR: Skill execution failed: upstream 503]" || !res.Executed {
		t.Errorf("error result = %+v", res)
	}

	res = d.ParseAndExecute(context.Background(), `[[CALL_SKILL: boom]]`)
	if !strings.HasPrefix(res.Output, "[ERROR: Skill execution failed: panic: nil map") || !res.Executed {
		t.Errorf("panic result = %+v", res)
	}
}

func TestParseAndExecute_PositionalBindsFirstRequired(t *testing.T) {
	rec := &recorder{out: "drawn"}
	reg := newRegistry(t, imageDef(rec.handle))
	d := New(reg, nil, Persona{Name: "Mei", Skills: map[string]map[string]string{"image_generation": nil}})

	d.ParseAndExecute(context.Background(), `[[CALL_SKILL: image_generation("a red fox")]]`)
	if len(rec.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.calls))
	}
	if got := rec.calls[0]["prompt"]; got != "a red fox" {
		t.Errorf("prompt = %v, want %q", got, "a red fox")
	}
	if _, ok := rec.calls[0]["size"]; ok {
		t.Error("positional value bound to optional param")
	}
}

func TestParseAndExecute_ConfigMerge(t *testing.T) {
	rec := &recorder{}
	reg := newRegistry(t, imageDef(rec.handle))
	global := skills.Config{"api_key": "global-key", "base_url": "https://api.example.com/v1", "doc_root": "/docs"}
	d := New(reg, global, Persona{
		Name:     "Mei",
		Provider: "gemini",
		Skills:   map[string]map[string]string{"image_generation": {"api_key": "persona-key"}},
	})

	d.ParseAndExecute(context.Background(), `[[CALL_SKILL: image_generation | {"prompt": "x"}]]`)
	if len(rec.cfgs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.cfgs))
	}
	cfg := rec.cfgs[0]
	want := map[string]string{
		"api_key":          "persona-key",
		"base_url":         "https://api.example.com/v1",
		"doc_root":         "/docs",
		"persona_name":     "Mei",
		"persona_provider": "gemini",
	}
	for k, v := range want {
		if cfg[k] != v {
			t.Errorf("config[%s] = %q, want %q", k, cfg[k], v)
		}
	}
	if global["api_key"] != "global-key" {
		t.Error("global config was mutated")
	}
}

func TestParseAndExecute_FirstDirectiveOnly(t *testing.T) {
	rec := &recorder{out: "one"}
	reg := newRegistry(t, skills.Definition{Name: "foo", Handler: rec.handle})
	d := New(reg, nil, Persona{Name: "Alice", Skills: map[string]map[string]string{"foo": nil}})

	text := "[[CALL_SKILL: foo | {\"n\": 1}]]\nthen\n[[CALL_SKILL: foo | {\"n\": 2}]]"
	res := d.ParseAndExecute(context.Background(), text)
	if res.Directive != `[[CALL_SKILL: foo | {"n": 1}]]` {
		t.Errorf("Directive = %q", res.Directive)
	}
	if len(rec.calls) != 1 {
		t.Errorf("expected 1 call, got %d", len(rec.calls))
	}
}

func TestParseAndExecute_MultilineArguments(t *testing.T) {
	rec := &recorder{}
	reg := newRegistry(t, skills.Definition{Name: "write_file", Handler: rec.handle})
	d := New(reg, nil, Persona{Name: "Alice", Skills: map[string]map[string]string{"write_file": nil}})

	d.ParseAndExecute(context.Background(), "[[CALL_SKILL: write_file | {\n  \"file_path\": \"a.md\",\n  \"content\": \"line1\\nline2\"\n}]]")
	if len(rec.calls) != 1 || rec.calls[0]["content"] != "line1\nline2" {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestResolve_SortedFirstMatch(t *testing.T) {
	d := New(newRegistry(t), nil, Persona{Skills: map[string]map[string]string{
		"web":        nil,
		"web_search": nil,
	}})
	got, ok := d.Resolve("web_search_v2")
	if !ok || got != "web" {
		t.Errorf("Resolve = %q, %v; want first sorted match %q", got, ok, "web")
	}
	got, ok = d.Resolve("web_search")
	if !ok || got != "web_search" {
		t.Errorf("exact Resolve = %q, %v", got, ok)
	}
}

func TestPersonaFrom(t *testing.T) {
	p := &repository.Persona{
		Name:     "Mei",
		Provider: "openai",
		Skills: []repository.PersonaSkill{
			{Skill: "image_generation", Enabled: true, Config: map[string]string{"size": "1024x1024"}},
			{Skill: "web_search", Enabled: false},
		},
	}
	view := PersonaFrom(p)
	if len(view.Skills) != 1 {
		t.Fatalf("expected 1 enabled skill, got %v", view.Skills)
	}
	if view.Skills["image_generation"]["size"] != "1024x1024" {
		t.Errorf("override lost: %v", view.Skills)
	}
}

func TestParseAndExecute_PublishesSkillCall(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(4, events.EventSkillCall)
	defer unsub()

	rec := &recorder{out: "ok"}
	reg := newRegistry(t, skills.Definition{Name: "foo", Handler: rec.handle})
	d := New(reg, nil, Persona{Name: "Alice", Skills: map[string]map[string]string{"foo": nil}}, WithBus(bus))

	ctx := events.ContextWithTaskID(context.Background(), "task_abc")
	d.ParseAndExecute(ctx, `[[CALL_SKILL: foo_v2 | {"a": "b"}]]`)

	select {
	case e := <-ch:
		if e.TaskID != "task_abc" {
			t.Errorf("TaskID = %q, want task_abc", e.TaskID)
		}
		p, ok := events.ExtractPayload[events.SkillCallPayload](e)
		if !ok || p.Skill != "foo" || p.Requested != "foo_v2" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for skill.call event")
	}
}

func TestPromptSection(t *testing.T) {
	reg := newRegistry(t, imageDef((&recorder{}).handle))
	d := New(reg, nil, Persona{Skills: map[string]map[string]string{"image_generation": nil, "ghost": nil}})

	got := d.PromptSection()
	for _, want := range []string{
		"[AVAILABLE SKILLS]",
		"- image_generation: Draw things.",
		"Usage: [[CALL_SKILL: image_generation | {JSON Arguments}]]",
		"Arguments: size, prompt (required)",
		"- ghost: (unavailable)",
		"[SKILL EXECUTION RULES]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt section missing %q:\n%s", want, got)
		}
	}

	if New(reg, nil, Persona{}).PromptSection() != "" {
		t.Error("expected empty section without enabled skills")
	}
}
