// Package workflow persists multi-persona plans as markdown checklists and
// advances them as steps complete.
package workflow

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPlanNotFound is returned when a plan document does not exist.
var ErrPlanNotFound = errors.New("plan not found")

const (
	createdLayout = "2006-01-02 15:04:05"

	modeSequential = "SEQUENTIAL"
	modeParallel   = "PARALLEL"

	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"

	checklistHeading = "## Execution Plan (Checklist)"
	openBox          = "- [ ] "
	doneBox          = "- [x] "
)

// Step is one checklist line.
type Step struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Persona returns the persona named by the step, or "" when the step has no
// `Persona: instruction` shape.
func (s Step) Persona() string {
	p, _, _ := ParseStep(s.Text)
	return p
}

// ParseStep splits `Persona: instruction`. A `Persona | instruction` line is
// accepted as well.
func ParseStep(text string) (persona, instruction string, ok bool) {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, ":|")
	if i <= 0 {
		return "", text, false
	}
	persona = strings.TrimSpace(text[:i])
	instruction = strings.TrimSpace(text[i+1:])
	if persona == "" || instruction == "" {
		return "", text, false
	}
	return persona, instruction, true
}

// Plan is a parsed plan document.
type Plan struct {
	Ref        string    `json:"ref"`
	Title      string    `json:"title"`
	Created    time.Time `json:"created"`
	Sequential bool      `json:"sequential"`
	Steps      []Step    `json:"steps"`
}

// IsComplete reports whether every step is flagged.
func (p *Plan) IsComplete() bool {
	for _, s := range p.Steps {
		if !s.Done {
			return false
		}
	}
	return true
}

// Pending returns the steps ready to run: the earliest unflagged step in a
// sequential plan, every unflagged step in a parallel one.
func (p *Plan) Pending() []string {
	var out []string
	for _, no := range p.Ready() {
		out = append(out, p.Steps[no-1].Text)
	}
	return out
}

// Ready is Pending as 1-based step numbers. Identical step lines stay
// distinct.
func (p *Plan) Ready() []int {
	var out []int
	for i, s := range p.Steps {
		if s.Done {
			continue
		}
		out = append(out, i+1)
		if p.Sequential {
			break
		}
	}
	return out
}

// MarkAt flags step no when it is unflagged and still reads text. Any other
// case falls back to Mark(text).
func (p *Plan) MarkAt(no int, text string) bool {
	if no >= 1 && no <= len(p.Steps) {
		s := &p.Steps[no-1]
		if !s.Done && s.Text == strings.TrimSpace(text) {
			s.Done = true
			return true
		}
	}
	return p.Mark(text)
}

// Mark flags the step matching text and reports whether one was found. An
// unflagged step equal to text wins; otherwise the first unflagged step
// containing it is flagged.
func (p *Plan) Mark(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for i := range p.Steps {
		if !p.Steps[i].Done && p.Steps[i].Text == text {
			p.Steps[i].Done = true
			return true
		}
	}
	for i := range p.Steps {
		if !p.Steps[i].Done && strings.Contains(p.Steps[i].Text, text) {
			p.Steps[i].Done = true
			return true
		}
	}
	return false
}

// Mode returns the header value for the execution mode.
func (p *Plan) Mode() string {
	if p.Sequential {
		return modeSequential
	}
	return modeParallel
}

// Render produces the checklist document.
func (p *Plan) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Project: %s\n", p.Title)
	fmt.Fprintf(&b, "**Created**: %s\n", p.Created.Format(createdLayout))
	fmt.Fprintf(&b, "**Mode**: %s\n", p.Mode())
	status := statusInProgress
	if p.IsComplete() {
		status = statusCompleted
	}
	fmt.Fprintf(&b, "**Status**: %s\n\n", status)
	b.WriteString(checklistHeading + "\n")
	for _, s := range p.Steps {
		box := openBox
		if s.Done {
			box = doneBox
		}
		b.WriteString(box + s.Text + "\n")
	}
	return b.String()
}

// Parse reads a checklist document. Documents without a mode line are
// treated as sequential.
func Parse(ref string, data []byte) (*Plan, error) {
	p := &Plan{Ref: ref, Sequential: true}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var sawTitle bool
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "# Project:"):
			p.Title = strings.TrimSpace(strings.TrimPrefix(line, "# Project:"))
			sawTitle = true
		case strings.HasPrefix(line, "**Created**:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "**Created**:"))
			if t, err := time.ParseInLocation(createdLayout, v, time.Local); err == nil {
				p.Created = t
			}
		case strings.HasPrefix(line, "**Mode**:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "**Mode**:"))
			p.Sequential = !strings.EqualFold(v, modeParallel)
		case strings.HasPrefix(line, openBox):
			p.Steps = append(p.Steps, Step{Text: strings.TrimSpace(line[len(openBox):])})
		case strings.HasPrefix(line, "- [x] "), strings.HasPrefix(line, "- [X] "):
			p.Steps = append(p.Steps, Step{Text: strings.TrimSpace(line[len(doneBox):]), Done: true})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", ref, err)
	}
	if !sawTitle {
		return nil, fmt.Errorf("parse plan %s: missing project title", ref)
	}
	return p, nil
}
