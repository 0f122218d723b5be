package config

import "time"

// ProviderConfig holds the settings for one external provider client.
type ProviderConfig struct {
	// BaseURL overrides the provider's default endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable carrying the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model selects the model for LLM-backed providers.
	Model string `yaml:"model"`

	// MinInterval is the per-provider minimum delay between requests.
	MinInterval time.Duration `yaml:"min_interval"`

	// ConnectTimeout and ReadTimeout configure the HTTP client.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// ProvidersConfig groups all outbound provider settings.
type ProvidersConfig struct {
	// UserAgent is sent on every outbound request. Crossref and arXiv ask
	// for a contact address in it.
	UserAgent string `yaml:"user_agent"`

	OpenAI          *ProviderConfig `yaml:"openai"`
	Perplexity      *ProviderConfig `yaml:"perplexity"`
	Crossref        *ProviderConfig `yaml:"crossref"`
	SemanticScholar *ProviderConfig `yaml:"semantic_scholar"`
	Arxiv           *ProviderConfig `yaml:"arxiv"`
}

// DefaultProvidersConfig returns the built-in provider settings.
// LLM providers get the long connect/read timeouts their latency requires.
func DefaultProvidersConfig() *ProvidersConfig {
	return &ProvidersConfig{
		UserAgent: "answer42/1.0 (mailto:support@answer42.app)",
		OpenAI: &ProviderConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "gpt-4o-mini",
			ConnectTimeout: 90 * time.Second,
			ReadTimeout:    300 * time.Second,
		},
		Perplexity: &ProviderConfig{
			BaseURL:        "https://api.perplexity.ai",
			APIKeyEnv:      "PERPLEXITY_API_KEY",
			Model:          "sonar-pro",
			ConnectTimeout: 90 * time.Second,
			ReadTimeout:    300 * time.Second,
		},
		Crossref: &ProviderConfig{
			BaseURL:        "https://api.crossref.org",
			MinInterval:    100 * time.Millisecond,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
		SemanticScholar: &ProviderConfig{
			BaseURL:        "https://api.semanticscholar.org",
			APIKeyEnv:      "SEMANTIC_SCHOLAR_API_KEY",
			MinInterval:    200 * time.Millisecond,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
		Arxiv: &ProviderConfig{
			BaseURL:        "https://export.arxiv.org",
			MinInterval:    3 * time.Second,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
	}
}
