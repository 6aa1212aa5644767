package plugins

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/cadre/internal/config"
	"github.com/dohr-michael/cadre/internal/skills"
)

type recordingSearch struct {
	queries []string
}

func (r *recordingSearch) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: searchToolName}, nil
}

func (r *recordingSearch) InvokableRun(_ context.Context, in string, _ ...tool.Option) (string, error) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(in), &req); err != nil {
		return "", err
	}
	r.queries = append(r.queries, req.Query)
	return `[{"title":"hit"}]`, nil
}

func TestSearchHandler_SiteScope(t *testing.T) {
	rec := &recordingSearch{}
	h := searchHandler(rec)

	out, err := h(context.Background(), skills.Config{"site": "example.org"}, skills.Args{"query": "launch dates"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.HasPrefix(out, "[SEARCH RESULTS]:") {
		t.Errorf("output = %q", out)
	}
	if _, err := h(context.Background(), skills.Config{"site": "example.org"}, skills.Args{"q": "site:other.net x"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"site:example.org launch dates", "site:other.net x"}
	if len(rec.queries) != 2 || rec.queries[0] != want[0] || rec.queries[1] != want[1] {
		t.Errorf("queries = %q, want %q", rec.queries, want)
	}
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	rec := &recordingSearch{}
	out, err := searchHandler(rec)(context.Background(), nil, skills.Args{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Missing 'query'") || len(rec.queries) != 0 {
		t.Errorf("out = %q, queries = %v", out, rec.queries)
	}
}

func TestWebSearchSkill_Providers(t *testing.T) {
	ctx := context.Background()
	if _, err := WebSearchSkill(ctx, config.WebSearchConfig{Provider: "altavista"}); err == nil || !strings.Contains(err.Error(), "bing, duckduckgo, google") {
		t.Errorf("unknown provider error = %v", err)
	}
	if _, err := WebSearchSkill(ctx, config.WebSearchConfig{Provider: "google"}); err == nil {
		t.Error("google without credentials should fail")
	}
	def, err := WebSearchSkill(ctx, config.WebSearchConfig{})
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if def.Name != "web_search" || def.Handler == nil {
		t.Errorf("definition = %+v", def)
	}
}
