package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"

	"github.com/dohr-michael/cadre/internal/config"
	"github.com/dohr-michael/cadre/internal/skills"
)

const (
	searchToolName   = "web_search"
	searchMaxResults = 10
	searchTimeout    = 30 * time.Second
)

type searchBackend func(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error)

// searchBackends maps web_search providers to their eino-ext tool.
var searchBackends = map[string]searchBackend{
	"duckduckgo": func(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   searchToolName,
			MaxResults: resultLimit(cfg),
			Timeout:    searchTimeoutOf(cfg),
		})
	},
	"google": func(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
		if cfg.GoogleAPIKey == "" || cfg.GoogleCX == "" {
			return nil, fmt.Errorf("google_api_key and google_cx are required")
		}
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleCX,
			Num:            resultLimit(cfg),
			ToolName:       searchToolName,
		})
	},
	"bing": func(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
		if cfg.BingAPIKey == "" {
			return nil, fmt.Errorf("bing_api_key is required")
		}
		return bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: resultLimit(cfg),
			Timeout:    searchTimeoutOf(cfg),
			ToolName:   searchToolName,
		})
	},
}

func resultLimit(cfg config.WebSearchConfig) int {
	if cfg.MaxResults > 0 {
		return cfg.MaxResults
	}
	return searchMaxResults
}

func searchTimeoutOf(cfg config.WebSearchConfig) time.Duration {
	if d := cfg.Timeout.Duration(); d > 0 {
		return d
	}
	return searchTimeout
}

// WebSearchSkill builds web_search on the configured provider; duckduckgo
// needs no key and is the default.
func WebSearchSkill(ctx context.Context, cfg config.WebSearchConfig) (skills.Definition, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = "duckduckgo"
	}
	backend, ok := searchBackends[provider]
	if !ok {
		known := make([]string, 0, len(searchBackends))
		for name := range searchBackends {
			known = append(known, name)
		}
		sort.Strings(known)
		return skills.Definition{}, fmt.Errorf("web_search: unknown provider %q (have %s)", provider, strings.Join(known, ", "))
	}
	inner, err := backend(ctx, cfg)
	if err != nil {
		return skills.Definition{}, fmt.Errorf("web_search: %s: %w", provider, err)
	}

	return skills.Definition{
		Name:        searchToolName,
		DisplayName: "Web Search",
		Description: "Search the internet for real-time information. Returns titles, URLs and snippets.",
		Category:    "research",
		Params: []skills.Param{
			{Name: "query", Type: "string", Description: "Search keywords.", Required: true},
		},
		Handler: searchHandler(inner),
	}, nil
}

// searchHandler runs a query through inner. A persona's "site" setting
// scopes every query to that domain.
func searchHandler(inner tool.InvokableTool) skills.Handler {
	return func(ctx context.Context, cfg skills.Config, args skills.Args) (string, error) {
		query := strings.TrimSpace(args.First("query", "q", "keywords"))
		if query == "" {
			return "[ERROR: Missing 'query' argument. Please provide search keywords.]", nil
		}
		if site := strings.TrimSpace(cfg["site"]); site != "" && !strings.Contains(query, "site:") {
			query = "site:" + site + " " + query
		}
		input, err := json.Marshal(map[string]string{"query": query})
		if err != nil {
			return "", err
		}
		out, err := inner.InvokableRun(ctx, string(input))
		if err != nil {
			return "", fmt.Errorf("web_search %q: %w", query, err)
		}
		return "[SEARCH RESULTS]:\n" + out, nil
	}
}
