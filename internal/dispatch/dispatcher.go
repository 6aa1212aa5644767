// Package dispatch extracts skill-call directives from generated text and
// runs the resolved skill.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/panics"

	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/repository"
	"github.com/dohr-michael/cadre/internal/skills"
)

var directiveRe = regexp.MustCompile(`(?s)\[\[CALL_SKILL:\s*(.*?)\]\]`)

// Persona is the dispatcher's view of the calling persona.
type Persona struct {
	Name     string
	Provider string
	// Skills maps each enabled skill to its per-persona config override.
	Skills map[string]map[string]string
}

// PersonaFrom builds the dispatcher view of a stored persona.
func PersonaFrom(p *repository.Persona) Persona {
	out := Persona{Name: p.Name, Provider: p.Provider, Skills: make(map[string]map[string]string)}
	for _, name := range p.EnabledSkills() {
		out.Skills[name] = p.SkillConfig(name)
	}
	return out
}

// Result is the outcome of one ParseAndExecute call.
type Result struct {
	// Output is the observation for the action loop, or the original text
	// when no directive was found.
	Output string
	// Executed is false only when the text held no directive.
	Executed bool
	// Skill is the resolved skill name, empty when resolution failed.
	Skill string
	// Directive is the full matched `[[CALL_SKILL: ...]]` text.
	Directive string
}

// Dispatcher resolves and runs skill directives for one persona. It only
// reads the registry it was given.
type Dispatcher struct {
	registry *skills.Registry
	global   skills.Config
	persona  Persona
	enabled  []string
	parsers  []Parser
	bus      *events.Bus
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithParsers replaces the default parser chain.
func WithParsers(parsers ...Parser) Option {
	return func(d *Dispatcher) { d.parsers = parsers }
}

// WithBus publishes skill.call events on bus.
func WithBus(bus *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// New creates a dispatcher. global holds the settings every handler sees
// (api_key, base_url, gemini_api_key, doc_root).
func New(registry *skills.Registry, global skills.Config, persona Persona, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		global:   global,
		persona:  persona,
		parsers:  DefaultParsers(),
	}
	for name := range persona.Skills {
		d.enabled = append(d.enabled, name)
	}
	sort.Strings(d.enabled)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enabled returns the persona's enabled skill names, sorted.
func (d *Dispatcher) Enabled() []string {
	out := make([]string, len(d.enabled))
	copy(out, d.enabled)
	return out
}

// FindDirective returns the first `[[CALL_SKILL: ...]]` occurrence and its
// trimmed body.
func FindDirective(text string) (directive, body string, ok bool) {
	m := directiveRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[0], strings.TrimSpace(m[1]), true
}

// Parse runs the parser chain over a directive body.
func (d *Dispatcher) Parse(body string) (Invocation, bool) {
	for _, p := range d.parsers {
		if inv, ok := p.TryParse(body); ok {
			slog.Debug("directive parsed", "parser", p.Name(), "skill", inv.Name)
			return inv, true
		}
	}
	return Invocation{}, false
}

// Resolve maps a requested name to an enabled skill: exact match first, then
// the first enabled name (sorted) that prefixes or is contained in it.
func (d *Dispatcher) Resolve(requested string) (string, bool) {
	if _, ok := d.persona.Skills[requested]; ok {
		return requested, true
	}
	for _, name := range d.enabled {
		if strings.HasPrefix(requested, name) || strings.Contains(requested, name) {
			return name, true
		}
	}
	return "", false
}

// Config returns the merged handler config for skill: global settings, then
// the persona identity, then the persona's override.
func (d *Dispatcher) Config(skill string) skills.Config {
	cfg := make(skills.Config, len(d.global)+2)
	for k, v := range d.global {
		cfg[k] = v
	}
	cfg["persona_name"] = d.persona.Name
	provider := d.persona.Provider
	if provider == "" {
		provider = "openai"
	}
	cfg["persona_provider"] = provider
	for k, v := range d.persona.Skills[skill] {
		cfg[k] = v
	}
	return cfg
}

// ParseAndExecute finds the first directive in text and runs it. Every
// failure past finding the directive becomes an `[ERROR: ...]` observation
// with Executed set.
func (d *Dispatcher) ParseAndExecute(ctx context.Context, text string) Result {
	directive, body, ok := FindDirective(text)
	if !ok {
		return Result{Output: text}
	}
	res := Result{Executed: true, Directive: directive}

	inv, ok := d.Parse(body)
	if !ok {
		res.Output = fmt.Sprintf("[ERROR: Skill '' is not enabled for this agent. Content: %s]", body)
		return res
	}
	if inv.Error != "" {
		res.Output = inv.Error
		d.publish(ctx, inv.Name, inv.Name, inv.Args, inv.Error)
		return res
	}

	name, ok := d.Resolve(inv.Name)
	if !ok {
		res.Output = fmt.Sprintf("[ERROR: Skill '%s' is not enabled for this agent. Content: %s]", inv.Name, body)
		d.publish(ctx, "", inv.Name, inv.Args, "not enabled")
		return res
	}
	if name != inv.Name {
		slog.Debug("skill fuzzy matched", "requested", inv.Name, "skill", name)
	}

	def, ok := d.registry.Get(name)
	if !ok {
		res.Output = fmt.Sprintf("[ERROR: Skill implementation for '%s' not found in registry.]", name)
		d.publish(ctx, name, inv.Name, inv.Args, "not in registry")
		return res
	}
	res.Skill = name

	args := bindPositional(def, inv)
	out, err := run(ctx, def, d.Config(name), args)
	if err != nil {
		res.Output = fmt.Sprintf("[ERROR: Skill execution failed: %s]", err)
		slog.Warn("skill failed", "skill", name, "persona", d.persona.Name, "error", err)
		d.publish(ctx, name, inv.Name, args, err.Error())
		return res
	}
	slog.Info("skill executed", "skill", name, "persona", d.persona.Name)
	d.publish(ctx, name, inv.Name, args, "")
	res.Output = out
	return res
}

// bindPositional assigns an unlabeled value to the first required
// parameter, falling back to the first declared one.
func bindPositional(def skills.Definition, inv Invocation) skills.Args {
	args := inv.Args
	if args == nil {
		args = skills.Args{}
	}
	if len(args) > 0 || inv.Positional == "" {
		return args
	}
	if req := def.RequiredParams(); len(req) > 0 {
		args[req[0]] = inv.Positional
	} else if len(def.Params) > 0 {
		args[def.Params[0].Name] = inv.Positional
	}
	return args
}

// run calls the handler, turning a panic into an error.
func run(ctx context.Context, def skills.Definition, cfg skills.Config, args skills.Args) (out string, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		out, err = def.Handler(ctx, cfg, args)
	})
	if r := pc.Recovered(); r != nil {
		slog.Error("skill panicked", "skill", def.Name, "panic", r.Value, "stack", string(r.Stack))
		return "", fmt.Errorf("panic: %v", r.Value)
	}
	return out, err
}

func (d *Dispatcher) publish(ctx context.Context, skill, requested string, args skills.Args, errText string) {
	if d.bus == nil {
		return
	}
	payload := events.SkillCallPayload{
		Skill:     skill,
		Requested: requested,
		Persona:   d.persona.Name,
		Arguments: args,
		Error:     errText,
	}
	d.bus.Publish(events.NewTypedEventForTask(events.SourceDispatcher, payload, events.TaskIDFromContext(ctx)))
}
