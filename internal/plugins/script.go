package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/cadre/internal/skills"
)

const (
	scriptSkillsFunc = "Skills"
	scriptHandleFunc = "Handle"
)

// LoadScriptDir interprets every .go file in dir and returns the skills each
// declares. A file that fails to load is reported through onError and
// skipped. A missing directory yields no skills.
func LoadScriptDir(dir string, onError func(path string, err error)) ([]skills.Definition, error) {
	paths, err := scriptFiles(dir)
	if err != nil {
		return nil, err
	}
	var defs []skills.Definition
	for _, path := range paths {
		fileDefs, err := LoadScript(path)
		if err != nil {
			if onError != nil {
				onError(path, err)
			}
			continue
		}
		defs = append(defs, fileDefs...)
	}
	return defs, nil
}

// scriptPlugin is one interpreted skill script.
type scriptPlugin struct {
	path string

	// yaegi interpreters are not safe for concurrent evaluation.
	mu     sync.Mutex
	handle reflect.Value
}

// scriptFiles lists the *.go skill scripts in dir, sorted. A missing or
// empty dir yields nothing.
func scriptFiles(dir string) ([]string, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scripts: read %s: %w", trimmed, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		paths = append(paths, filepath.Join(trimmed, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// scriptStem is the file name of a script without its .go extension.
func scriptStem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".go")
}

// LoadScript interprets a Go skill script. The script must declare
//
//	func Skills() []map[string]any
//	func Handle(name string, config map[string]string, args map[string]string) (string, error)
//
// Each Skills() entry is decoded like a manifest skill spec.
func LoadScript(path string) ([]skills.Definition, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripts: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("scripts: %s is empty", path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("scripts: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("scripts: interpret %s: %w", path, err)
	}

	skillsFn, err := i.Eval(scriptSkillsFunc)
	if err != nil {
		return nil, fmt.Errorf("scripts: %s must define %s() []map[string]any: %w", path, scriptSkillsFunc, err)
	}
	handleFn, err := i.Eval(scriptHandleFunc)
	if err != nil {
		return nil, fmt.Errorf("scripts: %s must define %s(name string, config, args map[string]string) (string, error): %w", path, scriptHandleFunc, err)
	}
	if handleFn.Kind() != reflect.Func || handleFn.Type().NumIn() != 3 || handleFn.Type().NumOut() != 2 {
		return nil, fmt.Errorf("scripts: %s: %s has the wrong signature", path, scriptHandleFunc)
	}

	raw, err := invokeSkillsFunc(skillsFn)
	if err != nil {
		return nil, fmt.Errorf("scripts: %s: %w", path, err)
	}

	sp := &scriptPlugin{path: path, handle: handleFn}
	defs := make([]skills.Definition, 0, len(raw))
	for idx, entry := range raw {
		payload, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("scripts: %s skill[%d]: %w", path, idx, err)
		}
		var spec SkillSpec
		if err := yaml.Unmarshal(payload, &spec); err != nil {
			return nil, fmt.Errorf("scripts: %s skill[%d]: %w", path, idx, err)
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("scripts: %s skill[%d]: name is required", path, idx)
		}
		if spec.Category == "" {
			spec.Category = "script"
		}
		defs = append(defs, spec.Definition(sp.handler(spec.Name)))
	}
	return defs, nil
}

func invokeSkillsFunc(value reflect.Value) ([]map[string]any, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", scriptSkillsFunc)
	}
	if value.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must take no arguments", scriptSkillsFunc)
	}
	results := value.Call(nil)
	if len(results) == 0 {
		return nil, fmt.Errorf("%s must return []map[string]any", scriptSkillsFunc)
	}
	if len(results) == 2 && !results[1].IsNil() {
		if e, ok := results[1].Interface().(error); ok && e != nil {
			return nil, e
		}
	}
	out := results[0]
	if defs, ok := out.Interface().([]map[string]any); ok {
		return defs, nil
	}
	if out.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []map[string]any", scriptSkillsFunc)
	}
	defs := make([]map[string]any, out.Len())
	for i := 0; i < out.Len(); i++ {
		m, ok := out.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", scriptSkillsFunc, i)
		}
		defs[i] = m
	}
	return defs, nil
}

func (sp *scriptPlugin) handler(name string) skills.Handler {
	return func(_ context.Context, cfg skills.Config, args skills.Args) (string, error) {
		conf := make(map[string]string, len(cfg))
		for k, v := range cfg {
			conf[k] = v
		}

		sp.mu.Lock()
		defer sp.mu.Unlock()

		results := sp.handle.Call([]reflect.Value{
			reflect.ValueOf(name),
			reflect.ValueOf(conf),
			reflect.ValueOf(stringArgs(args)),
		})
		if len(results) != 2 {
			return "", fmt.Errorf("%s: %s returned %d values", filepath.Base(sp.path), scriptHandleFunc, len(results))
		}
		if !results[1].IsNil() {
			if e, ok := results[1].Interface().(error); ok && e != nil {
				return "", e
			}
		}
		out, _ := results[0].Interface().(string)
		return out, nil
	}
}

// stringArgs flattens parsed arguments for scripts; non-string values are
// JSON encoded.
func stringArgs(args skills.Args) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			} else {
				out[k] = fmt.Sprint(val)
			}
		}
	}
	return out
}
