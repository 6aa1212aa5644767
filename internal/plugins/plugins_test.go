package plugins

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/skills"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, ManifestFile)

	content := `{
		// Word counter plugin
		"name": "wordcount",
		"description": "Counts words",
		"wasm_path": "wordcount.wasm",
		"capabilities": {
			"kv": true,
			"http": {"allowed_hosts": ["api.example.com"]},
		},
		"skills": [{
			"display_name": "Word Count",
			"params": [{"name": "text", "type": "string", "required": true}],
		}],
	}`

	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}

	if m.Name != "wordcount" {
		t.Errorf("Name = %q, want %q", m.Name, "wordcount")
	}
	if !m.Capabilities.KV {
		t.Error("expected kv capability")
	}
	if m.Capabilities.HTTP == nil || len(m.Capabilities.HTTP.AllowedHosts) != 1 {
		t.Errorf("unexpected http capability %+v", m.Capabilities.HTTP)
	}
	if len(m.Skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(m.Skills))
	}
	s := m.Skills[0]
	if s.Name != "wordcount" {
		t.Errorf("skill name = %q, want plugin name", s.Name)
	}
	if s.Func != "handle" {
		t.Errorf("Func = %q, want %q", s.Func, "handle")
	}
	if s.Description != "Counts words" {
		t.Errorf("Description = %q, want manifest description", s.Description)
	}
	if len(s.Params) != 1 || !s.Params[0].Required {
		t.Errorf("unexpected params %+v", s.Params)
	}
}

func TestLoadManifest_MissingName(t *testing.T) {
	if _, err := ParseManifest("m.jsonc", []byte(`{"skills": [{"name": "x"}]}`)); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestLoadManifest_MissingSkills(t *testing.T) {
	if _, err := ParseManifest("m.jsonc", []byte(`{"name": "empty"}`)); err == nil {
		t.Fatal("expected error for missing skills")
	}
}

func TestLoadManifest_MultiSkillRequiresName(t *testing.T) {
	data := []byte(`{"name": "multi", "skills": [{"name": "a"}, {"description": "unnamed"}]}`)
	_, err := ParseManifest("m.jsonc", data)
	if err == nil || !strings.Contains(err.Error(), "index 1") {
		t.Fatalf("expected unnamed skill error, got %v", err)
	}
}

func TestLoadManifest_InvalidJSONC(t *testing.T) {
	if _, err := ParseManifest("m.jsonc", []byte(`{"name": `)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSkillSpec_DefinitionCategory(t *testing.T) {
	def := SkillSpec{Name: "x"}.Definition(func(context.Context, skills.Config, skills.Args) (string, error) { return "", nil })
	if def.Category != "plugin" {
		t.Errorf("Category = %q, want %q", def.Category, "plugin")
	}
	if err := def.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildExtismManifest_DenyByDefault(t *testing.T) {
	em := BuildExtismManifest(&PluginManifest{Name: "p", WasmPath: "p.wasm"}, Sandbox{DocRoot: "/srv/docs"})
	if len(em.AllowedHosts) != 0 {
		t.Errorf("expected no allowed hosts, got %v", em.AllowedHosts)
	}
	if len(em.AllowedPaths) != 0 {
		t.Errorf("expected no allowed paths, got %v", em.AllowedPaths)
	}
	if em.Memory != nil {
		t.Errorf("expected no memory limit, got %+v", em.Memory)
	}
	if em.Timeout != 0 {
		t.Errorf("expected no timeout, got %d", em.Timeout)
	}
}

func TestBuildExtismManifest_WithCapabilities(t *testing.T) {
	em := BuildExtismManifest(&PluginManifest{
		Name:     "p",
		WasmPath: "p.wasm",
		Capabilities: CapabilitySet{
			HTTP:      &HTTPCapability{AllowedHosts: []string{"api.example.com"}},
			Documents: DocsRead,
			Memory:    &MemoryLimit{MaxPages: 16},
			Timeout:   5000,
		},
	}, Sandbox{DocRoot: "/srv/docs", Timeout: time.Minute})
	if len(em.AllowedHosts) != 1 || em.AllowedHosts[0] != "api.example.com" {
		t.Errorf("AllowedHosts = %v", em.AllowedHosts)
	}
	if em.AllowedPaths["ro:/srv/docs"] != GuestDocRoot || len(em.AllowedPaths) != 1 {
		t.Errorf("AllowedPaths = %v, want read-only document root", em.AllowedPaths)
	}
	if em.Memory == nil || em.Memory.MaxPages != 16 {
		t.Errorf("Memory = %+v", em.Memory)
	}
	if em.Timeout != 5000 {
		t.Errorf("Timeout = %d, want the manifest's 5000", em.Timeout)
	}
}

func TestBuildExtismManifest_SandboxDefaults(t *testing.T) {
	m := &PluginManifest{
		Name:         "p",
		WasmPath:     "p.wasm",
		Capabilities: CapabilitySet{Documents: DocsWrite},
	}

	em := BuildExtismManifest(m, Sandbox{DocRoot: "/srv/docs", Timeout: 2 * time.Second})
	if em.AllowedPaths["/srv/docs"] != GuestDocRoot {
		t.Errorf("AllowedPaths = %v, want writable document root", em.AllowedPaths)
	}
	if em.Timeout != 2000 {
		t.Errorf("Timeout = %d, want sandbox default 2000", em.Timeout)
	}

	em = BuildExtismManifest(m, Sandbox{})
	if len(em.AllowedPaths) != 0 {
		t.Errorf("documents granted without a local root: %v", em.AllowedPaths)
	}
}

func TestHostEnv_KV(t *testing.T) {
	ctx := context.Background()
	env := &hostEnv{plugin: "p", kv: NewMemoryKV()}

	if got, err := env.kvGet(ctx, []byte("missing")); err != nil || len(got) != 0 {
		t.Errorf("kvGet(missing) = %q, %v", got, err)
	}
	if _, err := env.kvSet(ctx, []byte(`{"key":"k","value":"v"}`)); err != nil {
		t.Fatalf("kvSet: %v", err)
	}
	if got, _ := env.kvGet(ctx, []byte("k")); string(got) != "v" {
		t.Errorf("kvGet(k) = %q, want v", got)
	}
	if _, err := env.kvSet(ctx, []byte(`{"value":"v"}`)); err == nil {
		t.Error("kvSet accepted an empty key")
	}

	denied := &hostEnv{plugin: "p"}
	if _, err := denied.kvSet(ctx, []byte(`{"key":"k","value":"v"}`)); err == nil {
		t.Error("kvSet without the kv capability should fail")
	}
	if got, err := denied.kvGet(ctx, []byte("k")); err != nil || len(got) != 0 {
		t.Errorf("kvGet without capability = %q, %v", got, err)
	}
}

func TestHostEnv_ConfigAndEvents(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(8)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(1, events.EventPlugin)
	defer unsub()

	env := &hostEnv{plugin: "wordcount", bus: bus, config: map[string]string{"words_per_minute": "230"}}
	if got, _ := env.getConfig(ctx, []byte("words_per_minute")); string(got) != "230" {
		t.Errorf("getConfig = %q", got)
	}
	if _, err := env.log(ctx, []byte("not json")); err == nil {
		t.Error("log accepted malformed input")
	}
	if _, err := env.emitEvent(ctx, []byte(`{"type":"counted","payload":{"words":12,"plugin":"spoof"}}`)); err != nil {
		t.Fatalf("emitEvent: %v", err)
	}
	select {
	case e := <-ch:
		if e.Payload["plugin"] != "wordcount" || e.Payload["type"] != "counted" {
			t.Errorf("payload = %v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no plugin event published")
	}
}

func TestNewHostFunctions(t *testing.T) {
	fns := NewHostFunctions("p", nil, nil, nil)
	if len(fns) != 5 {
		t.Fatalf("expected 5 host functions, got %d", len(fns))
	}
}

func TestExtismRuntime_LoadMissingWasm(t *testing.T) {
	rt := NewExtismRuntime(nil, Sandbox{}, nil)
	defer rt.Close(context.Background())

	_, err := rt.Load(context.Background(), t.TempDir(), &PluginManifest{
		Name:     "ghost",
		WasmPath: "ghost.wasm",
		Skills:   []SkillSpec{{Name: "ghost", Func: "handle"}},
	})
	if err == nil {
		t.Fatal("expected error loading a missing wasm file")
	}
}

const shoutScript = `package main

import "strings"

func Skills() []map[string]any {
	return []map[string]any{
		{
			"name":         "shout",
			"display_name": "Shout",
			"description":  "Upper-cases text.",
			"params": []map[string]any{
				{"name": "text", "type": "string", "required": true},
			},
		},
		{"name": "whisper", "description": "Lower-cases text."},
	}
}

func Handle(name string, config map[string]string, args map[string]string) (string, error) {
	if name == "whisper" {
		return strings.ToLower(args["text"]), nil
	}
	return strings.ToUpper(args["text"]) + " says " + config["persona_name"], nil
}
`

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func TestLoadScript(t *testing.T) {
	p := writeScript(t, t.TempDir(), "shout.go", shoutScript)

	defs, err := LoadScript(p)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(defs))
	}

	shout := defs[0]
	if shout.Name != "shout" || shout.DisplayName != "Shout" || shout.Category != "script" {
		t.Errorf("unexpected definition %+v", shout)
	}
	if req := shout.RequiredParams(); len(req) != 1 || req[0] != "text" {
		t.Errorf("RequiredParams = %v, want [text]", req)
	}

	out, err := shout.Handler(context.Background(), skills.Config{"persona_name": "Alice"}, skills.Args{"text": "hi"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out != "HI says Alice" {
		t.Errorf("got %q, want %q", out, "HI says Alice")
	}

	out, err = defs[1].Handler(context.Background(), nil, skills.Args{"text": "LOUD"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out != "loud" {
		t.Errorf("got %q, want %q", out, "loud")
	}
}

func TestLoadScript_MissingHandle(t *testing.T) {
	src := "package main\n\nfunc Skills() []map[string]any { return nil }\n"
	p := writeScript(t, t.TempDir(), "broken.go", src)
	if _, err := LoadScript(p); err == nil {
		t.Fatal("expected error for missing Handle")
	}
}

func TestLoadScriptDir_SkipsBroken(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "shout.go", shoutScript)
	writeScript(t, dir, "broken.go", "package main\n")
	writeScript(t, dir, "notes.txt", "not a script")

	var failed []string
	defs, err := LoadScriptDir(dir, func(path string, err error) {
		failed = append(failed, filepath.Base(path))
	})
	if err != nil {
		t.Fatalf("LoadScriptDir: %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("expected 2 skills, got %d", len(defs))
	}
	if len(failed) != 1 || failed[0] != "broken.go" {
		t.Errorf("failed = %v, want [broken.go]", failed)
	}
}

func TestLoadScriptDir_Missing(t *testing.T) {
	defs, err := LoadScriptDir(filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil || defs != nil {
		t.Fatalf("expected nil, nil; got %v, %v", defs, err)
	}
}

func TestDiscoverer_EnabledFilterAndBrokenPlugin(t *testing.T) {
	root := t.TempDir()
	scripts := filepath.Join(root, "skills")
	plugins := filepath.Join(root, "plugins")
	if err := os.MkdirAll(scripts, 0o755); err != nil {
		t.Fatal(err)
	}
	writeScript(t, scripts, "voice.go", shoutScript)

	broken := filepath.Join(plugins, "broken")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name": "broken", "wasm_path": "missing.wasm", "skills": [{"name": "broken"}]}`
	if err := os.WriteFile(filepath.Join(broken, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	rt := NewExtismRuntime(nil, Sandbox{}, nil)
	defer rt.Close(context.Background())
	d := &Discoverer{Runtime: rt, PluginDir: plugins, ScriptsDir: scripts, Enabled: []string{"shout", "broken"}}

	defs := d.Discover(context.Background())
	if len(defs) != 1 || defs[0].Name != "shout" {
		var names []string
		for _, def := range defs {
			names = append(names, def.Name)
		}
		t.Fatalf("discovered %v, want [shout]", names)
	}
}

func TestDiscoverer_EnabledScriptStem(t *testing.T) {
	scripts := t.TempDir()
	writeScript(t, scripts, "voice.go", shoutScript)

	tests := []struct {
		enabled []string
		want    []string
	}{
		{[]string{"voice"}, []string{"shout", "whisper"}},
		{[]string{"whisper"}, []string{"whisper"}},
		{[]string{"other"}, nil},
		{nil, []string{"shout", "whisper"}},
	}
	for _, tt := range tests {
		d := &Discoverer{ScriptsDir: scripts, Enabled: tt.enabled}
		var names []string
		for _, def := range d.Discover(context.Background()) {
			names = append(names, def.Name)
		}
		if !reflect.DeepEqual(names, tt.want) {
			t.Errorf("enabled %v: discovered %v, want %v", tt.enabled, names, tt.want)
		}
	}
}

func TestRegisterAll_SkipsDuplicates(t *testing.T) {
	h := func(context.Context, skills.Config, skills.Args) (string, error) { return "", nil }
	b := skills.NewBuilder()
	n := RegisterAll(b, []skills.Definition{
		{Name: "a", Handler: h},
		{Name: "a", Handler: h},
		{Name: "bad name", Handler: h},
	})
	if n != 1 {
		t.Errorf("registered %d, want 1", n)
	}
}

// --- document skills ---

func newTestStore(t *testing.T) (*docstore.Store, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := docstore.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return docstore.New(backend), root
}

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fileSkill(t *testing.T, f *FileSkills, name string) skills.Handler {
	t.Helper()
	for _, def := range f.Definitions() {
		if def.Name == name {
			return def.Handler
		}
	}
	t.Fatalf("skill %q not found", name)
	return nil
}

func TestReadFile(t *testing.T) {
	store, root := newTestStore(t)
	writeDoc(t, root, "Alice/Launch_copy_task_abc.md", "Buy now.")
	read := fileSkill(t, NewFileSkills(store, 100), "read_file")
	ctx := context.Background()

	tests := []struct {
		name string
		args skills.Args
		want string
	}{
		{"exact", skills.Args{"file_path": "Alice/Launch_copy_task_abc.md"}, "[FILE CONTENT]:\nBuy now."},
		{"root label prefix", skills.Args{"path": "Company Doc/Alice/Launch_copy_task_abc.md"}, "[FILE CONTENT]:\nBuy now."},
		{"stem search", skills.Args{"filename": "Launch_copy.md"}, "[FILE CONTENT]:\nBuy now."},
		{"escape", skills.Args{"file": "../../etc/passwd"}, "[ERROR: Access Denied. You can only read files within 'Company Doc'.]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := read(ctx, nil, tt.args)
			if err != nil {
				t.Fatalf("read_file: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadFile_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	read := fileSkill(t, NewFileSkills(store, 100), "read_file")

	got, err := read(context.Background(), nil, skills.Args{"file_path": "Report.md"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if !strings.HasPrefix(got, "[ERROR: File not found: Report.md.") || !strings.Contains(got, "'Report'") {
		t.Errorf("got %q", got)
	}
}

func TestReadFile_Truncated(t *testing.T) {
	store, root := newTestStore(t)
	writeDoc(t, root, "Bob/big.md", strings.Repeat("x", 50))
	read := fileSkill(t, NewFileSkills(store, 10), "read_file")

	got, err := read(context.Background(), nil, skills.Args{"file_path": "Bob/big.md"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	want := "[FILE CONTENT (Truncated first 10 chars)]:\nxxxxxxxxxx...\n(File too large)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadFile_MissingArgument(t *testing.T) {
	store, _ := newTestStore(t)
	read := fileSkill(t, NewFileSkills(store, 10), "read_file")
	got, _ := read(context.Background(), nil, skills.Args{})
	if !strings.HasPrefix(got, "[ERROR: Missing 'file_path' argument.") {
		t.Errorf("got %q", got)
	}
}

func TestListFiles(t *testing.T) {
	store, root := newTestStore(t)
	writeDoc(t, root, "Alice/a.md", "a")
	writeDoc(t, root, "Alice/assets/img_1.png", "png")
	writeDoc(t, root, "Bob/b.md", "b")
	writeDoc(t, root, "readme.md", "r")
	list := fileSkill(t, NewFileSkills(store, 100), "list_files")
	ctx := context.Background()

	got, err := list(ctx, nil, skills.Args{})
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	if !strings.HasPrefix(got, "[CONTENTS of Company Doc]:\nDIRS: Alice, Bob\nFILES: readme.md\n") {
		t.Errorf("root listing = %q", got)
	}

	got, err = list(ctx, nil, skills.Args{"subdir": "Alice"})
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	if got != "[FILES in Alice]:\na.md" {
		t.Errorf("subdir listing = %q", got)
	}

	got, err = list(ctx, nil, skills.Args{"pattern": "**/*.png"})
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	if got != "[FILES in Company Doc]:\nAlice/assets/img_1.png" {
		t.Errorf("pattern listing = %q", got)
	}

	got, _ = list(ctx, nil, skills.Args{"subdir": "Nobody"})
	if got != "[ERROR: Directory not found: Nobody]" {
		t.Errorf("missing dir = %q", got)
	}
}

func TestWriteFile(t *testing.T) {
	store, root := newTestStore(t)
	write := fileSkill(t, NewFileSkills(store, 100), "write_file")

	got, err := write(context.Background(), skills.Config{"persona_name": "Alice"}, skills.Args{"file_path": "notes", "content": "hello"})
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if got != "[FILE SAVED]: Company Doc/Alice/notes.md" {
		t.Errorf("got %q", got)
	}
	data, err := os.ReadFile(filepath.Join(root, "Alice", "notes.md"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	got, _ = write(context.Background(), skills.Config{"persona_name": "Alice"}, skills.Args{"file_path": "../../x.md", "content": "x"})
	if !strings.HasPrefix(got, "[ERROR: Access Denied.") {
		t.Errorf("escape = %q", got)
	}
}

// --- image generation ---

func TestImagesEndpoint(t *testing.T) {
	tests := map[string]string{
		"":                                        "https://api.openai.com/v1/images/generations",
		"https://proxy.local/v1/":                 "https://proxy.local/v1/images/generations",
		"https://proxy.local/v1/chat/completions": "https://proxy.local/v1/images/generations",
	}
	for in, want := range tests {
		if got := imagesEndpoint(in); got != want {
			t.Errorf("imagesEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestImageSkill_MissingPrompt(t *testing.T) {
	store, _ := newTestStore(t)
	def := NewImageSkill(store, "imagen").Definition()
	got, err := def.Handler(context.Background(), skills.Config{}, skills.Args{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.HasPrefix(got, "[ERROR: Missing 'prompt' argument.") {
		t.Errorf("got %q", got)
	}
}

func TestImageSkill_MissingKey(t *testing.T) {
	store, _ := newTestStore(t)
	def := NewImageSkill(store, "imagen").Definition()
	got, _ := def.Handler(context.Background(), skills.Config{"persona_provider": "gemini"}, skills.Args{"prompt": "a cat"})
	if !strings.Contains(got, "Gemini API Key is missing") {
		t.Errorf("got %q", got)
	}
}

func TestImageSkill_OpenAICompatible(t *testing.T) {
	png := []byte("\x89PNG fake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "dall-e-3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	store, root := newTestStore(t)
	def := NewImageSkill(store, "imagen").Definition()
	cfg := skills.Config{"api_key": "sk-test", "base_url": srv.URL + "/v1", "persona_name": "Mei"}

	got, err := def.Handler(context.Background(), cfg, skills.Args{"prompt": "a logo"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.HasPrefix(got, "![Generated Image](assets/img_") || !strings.HasSuffix(got, "*(Prompt: a logo)*") {
		t.Fatalf("got %q", got)
	}

	rel := strings.TrimSuffix(strings.TrimPrefix(strings.SplitN(got, ")", 2)[0], "![Generated Image]("), ")")
	data, err := os.ReadFile(filepath.Join(root, "Mei", filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("asset not saved: %v", err)
	}
	if string(data) != string(png) {
		t.Errorf("asset content mismatch")
	}
}
