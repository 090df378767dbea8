// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Config is the full iwantit configuration. It is decoded by viper
// (mapstructure tags) and rendered by `iwantit init` (yaml tags).
type Config struct {
	// PreSteps run for every request before a workflow is selected.
	PreSteps []string `json:"pre_steps" yaml:"pre_steps" mapstructure:"pre_steps"`

	// DefaultWorkflow is used when no workflow matches the media type.
	DefaultWorkflow string `json:"default_workflow,omitempty" yaml:"default_workflow,omitempty" mapstructure:"default_workflow"`

	// Workflows are tried in order; the first whose match accepts the
	// document's media type runs.
	Workflows []WorkflowConfig `json:"workflows" yaml:"workflows" mapstructure:"workflows"`

	// Steps defines every step referenced by PreSteps and Workflows.
	Steps map[string]StepConfig `json:"steps" yaml:"steps" mapstructure:"steps"`

	// Retries holds the default retry and timeout policy of every step.
	Retries RetryConfig `json:"retries" yaml:"retries" mapstructure:"retries"`

	Cache              CacheConfig             `json:"cache" yaml:"cache" mapstructure:"cache"`
	Decision           DecisionConfig          `json:"decision" yaml:"decision" mapstructure:"decision"`
	QualityRules       map[string]RuleConfig   `json:"quality_rules" yaml:"quality_rules" mapstructure:"quality_rules"`
	MediaTypes         MediaTypeConfig         `json:"media_type_detection" yaml:"media_type_detection" mapstructure:"media_type_detection"`
	ReleasePreferences ReleasePreferenceConfig `json:"release_preferences" yaml:"release_preferences" mapstructure:"release_preferences"`
	Matching           MatchConfig             `json:"matching" yaml:"matching" mapstructure:"matching"`

	Prowlarr  ProwlarrConfig  `json:"prowlarr" yaml:"prowlarr" mapstructure:"prowlarr"`
	Redacted  RedactedConfig  `json:"redacted" yaml:"redacted" mapstructure:"redacted"`
	Radarr    ArrConfig       `json:"radarr" yaml:"radarr" mapstructure:"radarr"`
	Sonarr    ArrConfig       `json:"sonarr" yaml:"sonarr" mapstructure:"sonarr"`
	WebSearch WebSearchConfig `json:"web_search" yaml:"web_search" mapstructure:"web_search"`
	OCR       OCRConfig       `json:"ocr" yaml:"ocr" mapstructure:"ocr"`
	HTTP      HTTPConfig      `json:"http" yaml:"http" mapstructure:"http"`

	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`
	Report  ReportConfig  `json:"report" yaml:"report" mapstructure:"report"`
	Plugins PluginConfig  `json:"plugins" yaml:"plugins" mapstructure:"plugins"`
	Paths   PathsConfig   `json:"paths" yaml:"paths" mapstructure:"paths"`
}

// WorkflowConfig is a named, ordered list of steps.
type WorkflowConfig struct {
	Name  string        `json:"name" yaml:"name" mapstructure:"name"`
	Match WorkflowMatch `json:"match" yaml:"match" mapstructure:"match"`
	Steps []string      `json:"steps" yaml:"steps" mapstructure:"steps"`
}

// WorkflowMatch selects a workflow by media type. An empty match never
// selects; such workflows run only by name.
type WorkflowMatch struct {
	MediaType []string `json:"media_type,omitempty" yaml:"media_type,omitempty" mapstructure:"media_type"`
}

// StepConfig defines one step: either a builtin or an external command.
type StepConfig struct {
	// Builtin names a step compiled into the binary.
	Builtin string `json:"builtin,omitempty" yaml:"builtin,omitempty" mapstructure:"builtin"`

	// Command is the argv of an external step. A single element containing
	// spaces is split on whitespace.
	Command []string `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`

	// Env adds variables to an external step's environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`

	// SideEffect marks a dispatch-class step. Such steps only run when the
	// run is confirmed and can never be cached.
	SideEffect bool `json:"side_effect,omitempty" yaml:"side_effect,omitempty" mapstructure:"side_effect"`

	// Timeout is the hard per-attempt timeout. Zero uses Retries.Timeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`

	MaxAttempts       int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" mapstructure:"max_attempts"`
	Backoff           time.Duration `json:"backoff,omitempty" yaml:"backoff,omitempty" mapstructure:"backoff"`
	MaxBackoff        time.Duration `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty" mapstructure:"max_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty" mapstructure:"backoff_multiplier"`

	Cache StepCacheConfig `json:"cache,omitempty" yaml:"cache,omitempty" mapstructure:"cache"`

	// Emits overrides the output namespaces an external step declares.
	Emits []string `json:"emits,omitempty" yaml:"emits,omitempty" mapstructure:"emits"`

	// Description is shown by `iwantit list steps`.
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`

	// Options holds builtin-specific settings.
	Options map[string]any `json:"-" yaml:",inline" mapstructure:",remain"`
}

// StepCacheConfig enables result caching for a step.
type StepCacheConfig struct {
	Enabled   bool          `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`
	TTL       time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" mapstructure:"ttl"`
	Namespace string        `json:"namespace,omitempty" yaml:"namespace,omitempty" mapstructure:"namespace"`

	// KeyFields are the document paths the cache key is derived from.
	KeyFields []string `json:"key_fields,omitempty" yaml:"key_fields,omitempty" mapstructure:"key_fields"`
}

// RetryConfig is the default step policy.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Backoff           time.Duration `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// CacheBackend selects the persistent cache store.
type CacheBackend string

const (
	CacheFile   CacheBackend = "file"
	CacheSQLite CacheBackend = "sqlite"
	CacheNone   CacheBackend = "none"
)

// CacheConfig configures the shared cache layer.
type CacheConfig struct {
	Backend CacheBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Dir overrides the XDG cache directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`

	// MemoryEntries sizes the in-process LRU in front of the store.
	MemoryEntries int `json:"memory_entries" yaml:"memory_entries" mapstructure:"memory_entries"`

	// DefaultTTL applies to cacheable steps without their own TTL.
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`
}

// NoMatchPolicy controls what an empty candidate set resolves to.
type NoMatchPolicy string

const (
	NoMatchNeedsChoice NoMatchPolicy = "needs_choice"
	NoMatchError       NoMatchPolicy = "error"
)

// DecisionConfig holds decision engine defaults.
type DecisionConfig struct {
	NoMatch NoMatchPolicy `json:"no_match" yaml:"no_match" mapstructure:"no_match"`
	TopN    int           `json:"top_n" yaml:"top_n" mapstructure:"top_n"`

	// AutoSelect maps a media type to the formats or categories a top
	// candidate may carry to be selected without asking.
	AutoSelect map[string][]string `json:"auto_select" yaml:"auto_select" mapstructure:"auto_select"`
}

// RuleConfig is the ranking rule set of one media type.
type RuleConfig struct {
	// Fields lists the candidate fields rules match against.
	Fields   []string       `json:"fields,omitempty" yaml:"fields,omitempty" mapstructure:"fields"`
	Reject   []PatternRule  `json:"reject,omitempty" yaml:"reject,omitempty" mapstructure:"reject"`
	Score    []ScoreRule    `json:"score,omitempty" yaml:"score,omitempty" mapstructure:"score"`
	Numeric  []NumericRule  `json:"numeric,omitempty" yaml:"numeric,omitempty" mapstructure:"numeric"`
	Priority PriorityConfig `json:"priority,omitempty" yaml:"priority,omitempty" mapstructure:"priority"`

	// Overlays add rules when the explicit constraint names a format
	// (e.g. audiobook versus ebook for books).
	Overlays map[string]RuleOverlay `json:"overlays,omitempty" yaml:"overlays,omitempty" mapstructure:"overlays"`
}

// RuleOverlay extends a rule set for one format.
type RuleOverlay struct {
	Reject []PatternRule `json:"reject,omitempty" yaml:"reject,omitempty" mapstructure:"reject"`
	Score  []ScoreRule   `json:"score,omitempty" yaml:"score,omitempty" mapstructure:"score"`
}

// PatternRule rejects candidates whose normalized text matches.
type PatternRule struct {
	Match  string `json:"match" yaml:"match" mapstructure:"match"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty" mapstructure:"reason"`
}

// ScoreRule adds Weight when the pattern matches; Multi counts every
// occurrence.
type ScoreRule struct {
	Match  string  `json:"match" yaml:"match" mapstructure:"match"`
	Weight float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
	Label  string  `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
	Multi  bool    `json:"multi,omitempty" yaml:"multi,omitempty" mapstructure:"multi"`
}

// NumericRule adds value/Scale*Weight for a numeric candidate field,
// capped at Max when Max is positive.
type NumericRule struct {
	Field  string  `json:"field" yaml:"field" mapstructure:"field"`
	Weight float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
	Scale  float64 `json:"scale,omitempty" yaml:"scale,omitempty" mapstructure:"scale"`
	Max    float64 `json:"max,omitempty" yaml:"max,omitempty" mapstructure:"max"`
}

// PriorityConfig orders release categories into strictly separated bands.
type PriorityConfig struct {
	Order []string `json:"order,omitempty" yaml:"order,omitempty" mapstructure:"order"`

	// Default is assigned to candidates matching no category.
	Default string `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`

	// Categories maps a category to the patterns detecting it.
	Categories map[string][]string `json:"categories,omitempty" yaml:"categories,omitempty" mapstructure:"categories"`
}

// MediaTypeConfig drives determine_media_type.
type MediaTypeConfig struct {
	Keywords map[string][]string `json:"keywords" yaml:"keywords" mapstructure:"keywords"`
	MinScore int                 `json:"min_score" yaml:"min_score" mapstructure:"min_score"`
	Default  string              `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
}

// ReleasePreferenceConfig maps canonical preference values to the phrases
// that express them in a query.
type ReleasePreferenceConfig struct {
	Editions map[string][]string `json:"editions" yaml:"editions" mapstructure:"editions"`
	Media    map[string][]string `json:"media" yaml:"media" mapstructure:"media"`
	Formats  map[string][]string `json:"formats" yaml:"formats" mapstructure:"formats"`
}

// MatchConfig drives filter_match.
type MatchConfig struct {
	MinRatio        float64  `json:"min_ratio" yaml:"min_ratio" mapstructure:"min_ratio"`
	MinTokenMatches int      `json:"min_token_matches" yaml:"min_token_matches" mapstructure:"min_token_matches"`
	StopWords       []string `json:"stop_words,omitempty" yaml:"stop_words,omitempty" mapstructure:"stop_words"`
}

// HTTPConfig holds shared HTTP settings used by steps that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// ProwlarrConfig configures the indexer aggregator.
type ProwlarrConfig struct {
	URL        string           `json:"url" yaml:"url" mapstructure:"url"`
	APIKey     string           `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	IndexerIDs []int            `json:"indexer_ids,omitempty" yaml:"indexer_ids,omitempty" mapstructure:"indexer_ids"`
	Categories map[string][]int `json:"categories" yaml:"categories" mapstructure:"categories"`

	// CategoryPrefixes keeps candidates whose category id divided by 100 is
	// listed, so 30 admits the whole 3000-3099 audio range.
	CategoryPrefixes map[string][]int `json:"category_prefixes,omitempty" yaml:"category_prefixes,omitempty" mapstructure:"category_prefixes"`

	// DownloadClients maps a media type to a download client id.
	DownloadClients map[string]int `json:"download_clients,omitempty" yaml:"download_clients,omitempty" mapstructure:"download_clients"`

	// DownloadClientRules pick a client from the selected release's
	// categories when no media type mapping applies.
	DownloadClientRules []DownloadClientRule `json:"download_client_rules,omitempty" yaml:"download_client_rules,omitempty" mapstructure:"download_client_rules"`
}

// DownloadClientRule matches release categories exactly or by thousands
// prefix (3 matches 3000-3999).
type DownloadClientRule struct {
	ClientID         int   `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	Categories       []int `json:"categories,omitempty" yaml:"categories,omitempty" mapstructure:"categories"`
	CategoryPrefixes []int `json:"category_prefixes,omitempty" yaml:"category_prefixes,omitempty" mapstructure:"category_prefixes"`
}

// RedactedConfig configures the music tracker enrichment client.
type RedactedConfig struct {
	URL        string        `json:"url" yaml:"url" mapstructure:"url"`
	APIKey     string        `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	RateLimit  int           `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	RatePeriod time.Duration `json:"rate_period" yaml:"rate_period" mapstructure:"rate_period"`
}

// ArrConfig configures a Radarr or Sonarr instance.
type ArrConfig struct {
	URL                 string `json:"url" yaml:"url" mapstructure:"url"`
	APIKey              string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	QualityProfileID    int    `json:"quality_profile_id" yaml:"quality_profile_id" mapstructure:"quality_profile_id"`
	RootFolderPath      string `json:"root_folder_path" yaml:"root_folder_path" mapstructure:"root_folder_path"`
	Monitored           bool   `json:"monitored" yaml:"monitored" mapstructure:"monitored"`
	SearchOnAdd         bool   `json:"search_on_add" yaml:"search_on_add" mapstructure:"search_on_add"`
	MinimumAvailability string `json:"minimum_availability,omitempty" yaml:"minimum_availability,omitempty" mapstructure:"minimum_availability"`
	SeriesType          string `json:"series_type,omitempty" yaml:"series_type,omitempty" mapstructure:"series_type"`
	SeasonFolder        bool   `json:"season_folder,omitempty" yaml:"season_folder,omitempty" mapstructure:"season_folder"`
}

// WebSearchConfig configures identification web search.
type WebSearchConfig struct {
	// Order lists the providers queried. Results are merged; a failing
	// provider only costs its own results.
	Order      []string                     `json:"order" yaml:"order" mapstructure:"order"`
	Providers  map[string]WebSearchProvider `json:"providers" yaml:"providers" mapstructure:"providers"`
	MaxResults int                          `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// WebSearchProvider holds one provider's endpoint and credentials.
type WebSearchProvider struct {
	URL    string `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	APIKey string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
}

// OCRConfig configures the ocr step.
type OCRConfig struct {
	Command   string   `json:"command" yaml:"command" mapstructure:"command"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Languages string   `json:"languages,omitempty" yaml:"languages,omitempty" mapstructure:"languages"`

	// Image is a tesseract container image used through docker or podman
	// when Command is not on PATH.
	Image string `json:"image,omitempty" yaml:"image,omitempty" mapstructure:"image"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// ReportConfig enables markdown run reports.
type ReportConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`
}

// PluginConfig lists extra directories searched for plugin manifests.
type PluginConfig struct {
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty" mapstructure:"paths"`
}

// PathsConfig overrides XDG locations.
type PathsConfig struct {
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty" mapstructure:"state_dir"`
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
}
