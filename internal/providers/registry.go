package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Settings carries everything needed to construct any adapter. Fields
// irrelevant to a given provider are ignored by its constructor.
type Settings struct {
	// APIKey authenticates the provider, where one applies.
	APIKey string

	// BaseURL overrides the provider endpoint (ollama, proxies).
	BaseURL string

	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string

	// Region is the AWS region for Bedrock.
	Region string

	// AccessKeyID, SecretAccessKey, and SessionToken are explicit AWS
	// credentials for Bedrock.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DefaultModel is used when a request names no model.
	DefaultModel string
}

// New constructs the adapter for a provider name.
func New(name string, settings Settings) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       settings.APIKey,
			BaseURL:      settings.BaseURL,
			DefaultModel: settings.DefaultModel,
		})
	case "openai":
		return NewOpenAIProvider(settings.APIKey)
	case "deepseek":
		return NewDeepSeekProvider(settings.APIKey)
	case "azure":
		return NewAzureProvider(settings.APIKey, settings.Endpoint)
	case "mistral":
		return NewMistralProvider(settings.APIKey)
	case "ollama":
		return NewOllamaProvider(settings.BaseURL)
	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:       settings.APIKey,
			DefaultModel: settings.DefaultModel,
		})
	case "bedrock":
		return NewBedrockProvider(BedrockConfig{
			Region:          settings.Region,
			AccessKeyID:     settings.AccessKeyID,
			SecretAccessKey: settings.SecretAccessKey,
			SessionToken:    settings.SessionToken,
			DefaultModel:    settings.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Names returns the supported provider names.
func Names() []string {
	return []string{"anthropic", "openai", "deepseek", "azure", "mistral", "ollama", "google", "bedrock"}
}

// Registry holds constructed providers keyed by name. Registration after
// startup is allowed; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
