package config

import "time"

// Config is the root configuration for cadre.
type Config struct {
	Models  ModelsConfig  `json:"models"`
	Engine  EngineConfig  `json:"engine"`
	Workers WorkersConfig `json:"workers"`
	Storage StorageConfig `json:"storage"`
	Plugins PluginsConfig `json:"plugins"`
	Skills  SkillsConfig  `json:"skills"`
	Events  EventsConfig  `json:"events"`
	Log     LogConfig     `json:"log"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver        string     `json:"driver"` // "openai", "ollama", "anthropic", "gemini"
	Model         string     `json:"model"`
	BaseURL       string     `json:"base_url,omitempty"`
	Auth          AuthConfig `json:"auth"`
	MaxTokens     int        `json:"max_tokens,omitempty"`
	MaxConcurrent int        `json:"max_concurrent,omitempty"`
	Temperature   *float32   `json:"temperature,omitempty"`
	Timeout       Duration   `json:"timeout,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // direct key or ${VAR}
}

// EngineConfig tunes the action loop.
type EngineConfig struct {
	MaxTurns       int  `json:"max_turns"`
	MinAnswerChars int  `json:"min_answer_chars"`
	ForcingTurns   int  `json:"forcing_turns"`
	ActivityTail   int  `json:"activity_tail"`
	NoRefusalRetry bool `json:"no_refusal_retry"` // skip the one rephrased retry after a refusal
	Stream         bool `json:"stream"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	MaxConcurrent int      `json:"max_concurrent"` // 0 = sum of providers' max_concurrent
	PollInterval  Duration `json:"poll_interval,omitempty"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	DocRoot       string   `json:"doc_root"`
	Backend       string   `json:"backend"` // "local" | "s3"
	S3            S3Config `json:"s3"`
	DBPath        string   `json:"db_path"`
	TasksDir      string   `json:"tasks_dir"`
	JournalPath   string   `json:"journal_path"`
	ActivityPath  string   `json:"activity_path"`
	EventsDir     string   `json:"events_dir"`
	HeartbeatPath string   `json:"heartbeat_path"`
}

// S3Config configures the S3 document backend.
type S3Config struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
	Region string `json:"region"`
}

// PluginsConfig configures plugin discovery.
type PluginsConfig struct {
	Dir        string   `json:"dir"`         // extism plugins (default: $CADRE_PATH/plugins)
	ScriptsDir string   `json:"scripts_dir"` // yaegi skill scripts (default: $CADRE_PATH/skills)
	Enabled    []string `json:"enabled"`     // enabled plugin names (empty = all)
	Timeout    Duration `json:"timeout"`     // per-call limit for plugins that set none
}

// SkillsConfig configures builtin skills.
type SkillsConfig struct {
	WebSearch    WebSearchConfig `json:"web_search"`
	ImageModel   string          `json:"image_model"`
	ReadMaxChars int             `json:"read_max_chars"`
}

// WebSearchConfig selects the web_search backend.
type WebSearchConfig struct {
	Provider     string   `json:"provider"` // "duckduckgo" | "google" | "bing"
	MaxResults   int      `json:"max_results"`
	GoogleAPIKey string   `json:"google_api_key,omitempty"`
	GoogleCX     string   `json:"google_cx,omitempty"`
	BingAPIKey   string   `json:"bing_api_key,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
