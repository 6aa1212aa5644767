// Package delegation turns coordination tags in generated text into tasks,
// and advances plans when their step tasks complete.
package delegation

import (
	"regexp"
	"strings"
)

// Kind names a coordination tag.
type Kind string

const (
	KindDelegate      Kind = "DELEGATE"
	KindCreateProject Kind = "CREATE_PROJECT"
	KindExecuteTask   Kind = "EXECUTE_TASK"
	KindLog           Kind = "LOG"
)

// Directive is one coordination tag found in generated text.
type Directive struct {
	Kind Kind
	Raw  string

	// DELEGATE
	Target string
	// DELEGATE, EXECUTE_TASK
	Instruction string
	// CREATE_PROJECT, EXECUTE_TASK
	Title string
	// CREATE_PROJECT
	Sequential bool
	Steps      []string
	// LOG
	Text string
}

var directiveRe = regexp.MustCompile(`(?s)\[\[\s*(DELEGATE|CREATE_PROJECT|EXECUTE_TASK|LOG)\s*:(.*?)\]\]`)

// ScanDirectives returns every well-formed coordination tag in text, in
// order of appearance. Malformed tags are skipped.
func ScanDirectives(text string) []Directive {
	var out []Directive
	for _, m := range directiveRe.FindAllStringSubmatch(text, -1) {
		d, ok := parseDirective(Kind(m[1]), strings.TrimSpace(m[2]))
		if !ok {
			continue
		}
		d.Raw = m[0]
		out = append(out, d)
	}
	return out
}

// StripDirectives removes coordination tags from text.
func StripDirectives(text string) string {
	return strings.TrimSpace(directiveRe.ReplaceAllString(text, ""))
}

func parseDirective(kind Kind, body string) (Directive, bool) {
	d := Directive{Kind: kind}
	switch kind {
	case KindDelegate:
		target, instruction, ok := cutPipe(body)
		if !ok {
			return d, false
		}
		d.Target, d.Instruction = target, instruction
	case KindExecuteTask:
		title, instruction, ok := cutPipe(body)
		if !ok {
			return d, false
		}
		d.Title, d.Instruction = title, instruction
	case KindCreateProject:
		parts := splitPipes(body)
		if len(parts) < 2 || parts[0] == "" {
			return d, false
		}
		d.Title = parts[0]
		rest := parts[1:]
		d.Sequential = true
		if seq, ok := parseMode(rest[0]); ok {
			d.Sequential = seq
			rest = rest[1:]
		}
		for _, s := range rest {
			if s != "" {
				d.Steps = append(d.Steps, s)
			}
		}
		if len(d.Steps) == 0 {
			return d, false
		}
	case KindLog:
		if body == "" {
			return d, false
		}
		d.Text = body
	}
	return d, true
}

// cutPipe splits at the first pipe. Both sides must be non-empty; the right
// side keeps any further pipes.
func cutPipe(body string) (string, string, bool) {
	left, right, ok := strings.Cut(body, "|")
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if !ok || left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

func splitPipes(body string) []string {
	parts := strings.Split(body, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseMode reads the optional sequential flag of CREATE_PROJECT.
func parseMode(s string) (sequential, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "sequential", "serial":
		return true, true
	case "false", "no", "0", "parallel":
		return false, true
	}
	return false, false
}
