package dispatch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/dohr-michael/cadre/internal/skills"
)

// Invocation is one parsed skill call.
type Invocation struct {
	Name string
	Args skills.Args
	// Positional is an unlabeled value, bound after resolution to the
	// skill's first required parameter when Args is empty.
	Positional string
	// Error is set when the directive was recognized but its arguments
	// could not be decoded; it is returned as the observation.
	Error string
}

// Parser recognizes one encoding of a directive body.
type Parser interface {
	Name() string
	TryParse(content string) (Invocation, bool)
}

// DefaultParsers returns the strategies in priority order.
func DefaultParsers() []Parser {
	return []Parser{pipeParser{}, callParser{}, objectParser{}, freeformParser{}, bareParser{}}
}

var (
	nameRe     = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	callRe     = regexp.MustCompile(`(?s)^([a-zA-Z0-9_]+)\s*\((.*)\)`)
	objectRe   = regexp.MustCompile(`(?s)^([a-zA-Z0-9_]+)\s*(\{.*\})`)
	freeformRe = regexp.MustCompile(`(?s)^([a-zA-Z0-9_]+)(?:[:\s]+)(.*)`)
	keyValueRe = regexp.MustCompile(`['"]?(\w+)['"]?\s*[=:]\s*(?:"([^"]*)"|'([^']*)'|([0-9.]+))`)
)

// pipeParser handles the canonical `name | {json}`.
type pipeParser struct{}

func (pipeParser) Name() string { return "pipe" }

func (pipeParser) TryParse(content string) (Invocation, bool) {
	name, rest, ok := strings.Cut(content, "|")
	if !ok {
		return Invocation{}, false
	}
	name = strings.TrimSpace(name)
	if !nameRe.MatchString(name) {
		return Invocation{}, false
	}
	rest = strings.TrimSpace(rest)
	inv := Invocation{Name: name}
	if rest == "" {
		return inv, true
	}

	if args, ok := decodeObject(rest); ok {
		inv.Args = args
		return inv, true
	}
	if args := scanKeyValues(rest); len(args) > 0 {
		inv.Args = args
		return inv, true
	}
	if strings.HasPrefix(rest, "{") {
		inv.Error = "[ERROR: Invalid JSON arguments for skill '" + name + "'.]"
		return inv, true
	}
	inv.Positional = unquote(rest)
	return inv, true
}

// callParser handles `name(key="value", ...)` and `name("positional")`.
type callParser struct{}

func (callParser) Name() string { return "call" }

func (callParser) TryParse(content string) (Invocation, bool) {
	m := callRe.FindStringSubmatch(content)
	if m == nil {
		return Invocation{}, false
	}
	inv := Invocation{Name: m[1]}
	inner := strings.TrimSpace(m[2])
	if args, ok := decodeObject(inner); ok {
		inv.Args = args
		return inv, true
	}
	if args := scanKeyValues(inner); len(args) > 0 {
		inv.Args = args
		return inv, true
	}
	inv.Positional = unquote(inner)
	return inv, true
}

// objectParser handles `name {json}` with the separator missing. Objects
// that are not valid JSON (`{key: "v"}`) fall back to a key=value scan.
type objectParser struct{}

func (objectParser) Name() string { return "object" }

func (objectParser) TryParse(content string) (Invocation, bool) {
	m := objectRe.FindStringSubmatch(content)
	if m == nil {
		return Invocation{}, false
	}
	inv := Invocation{Name: m[1]}
	obj := strings.TrimSpace(m[2])
	if args, ok := decodeObject(obj); ok {
		inv.Args = args
		return inv, true
	}
	inv.Args = scanKeyValues(obj[1 : len(obj)-1])
	return inv, true
}

// freeformParser handles `name: free text` and `name free text`.
type freeformParser struct{}

func (freeformParser) Name() string { return "freeform" }

func (freeformParser) TryParse(content string) (Invocation, bool) {
	m := freeformRe.FindStringSubmatch(content)
	if m == nil {
		return Invocation{}, false
	}
	inv := Invocation{Name: m[1]}
	rest := strings.TrimSpace(m[2])
	if strings.HasPrefix(rest, "{") && strings.HasSuffix(rest, "}") {
		if args, ok := decodeObject(rest); ok {
			inv.Args = args
			return inv, true
		}
	}
	if args := scanKeyValues(rest); len(args) > 0 {
		inv.Args = args
		return inv, true
	}
	inv.Positional = unquote(rest)
	return inv, true
}

// bareParser takes the whole body as the skill name.
type bareParser struct{}

func (bareParser) Name() string { return "bare" }

func (bareParser) TryParse(content string) (Invocation, bool) {
	name := strings.TrimSpace(content)
	if name == "" {
		return Invocation{}, false
	}
	return Invocation{Name: name}, true
}

// decodeObject decodes a JSON object, tolerating comments and trailing
// commas. Python-style literals ({'k': 'v', 'on': True}) are accepted too.
// Valid JSON that is not an object is rejected.
func decodeObject(s string) (skills.Args, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var args skills.Args
	if err := json.Unmarshal([]byte(s), &args); err == nil {
		return args, args != nil
	}
	for _, src := range []string{s, literalToJSON(s)} {
		std, err := hujson.Standardize([]byte(src))
		if err != nil {
			continue
		}
		args = nil
		if err := json.Unmarshal(std, &args); err == nil {
			return args, args != nil
		}
	}
	return nil, false
}

// literalToJSON rewrites a Python-style literal as JSON: quoted strings of
// either kind become JSON strings, and True, False and None become their
// JSON keywords. Anything else is copied through.
func literalToJSON(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			var str strings.Builder
			j := i + 1
			for ; j < len(s) && s[j] != c; j++ {
				if s[j] == '\\' && j+1 < len(s) {
					j++
					switch s[j] {
					case 'n':
						str.WriteByte('\n')
					case 't':
						str.WriteByte('\t')
					default:
						str.WriteByte(s[j])
					}
					continue
				}
				str.WriteByte(s[j])
			}
			quoted, _ := json.Marshal(str.String())
			b.Write(quoted)
			i = j + 1
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			j := i
			for j < len(s) && (s[j] == '_' || s[j] >= 'a' && s[j] <= 'z' || s[j] >= 'A' && s[j] <= 'Z' || s[j] >= '0' && s[j] <= '9') {
				j++
			}
			switch word := s[i:j]; word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// scanKeyValues collects key="v", key='v', key=1.5 (or key: ...) pairs.
// Later keys overwrite earlier ones.
func scanKeyValues(s string) skills.Args {
	matches := keyValueRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	args := make(skills.Args, len(matches))
	for _, m := range matches {
		switch {
		case m[2] != "":
			args[m[1]] = m[2]
		case m[3] != "":
			args[m[1]] = m[3]
		default:
			args[m[1]] = m[4]
		}
	}
	return args
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
