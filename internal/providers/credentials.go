package providers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vellum-dev/vellum/pkg/models"
)

// Credential format rules per provider. Format validation is purely
// syntactic and never touches the network; a passing format check only
// means the key is worth probing.
var credentialFormats = map[string]*regexp.Regexp{
	"anthropic": regexp.MustCompile(`^sk-ant-[A-Za-z0-9_-]{20,}$`),
	"openai":    regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`),
	"deepseek":  regexp.MustCompile(`^sk-[A-Za-z0-9]{20,}$`),
	"mistral":   regexp.MustCompile(`^[A-Za-z0-9]{32,}$`),
	"google":    regexp.MustCompile(`^AIza[A-Za-z0-9_-]{35}$`),
}

// ValidateKeyFormat checks the syntactic shape of an API key for the
// given provider. Providers without a known shape (azure, bedrock,
// ollama) only require a non-empty value where a key applies at all.
func ValidateKeyFormat(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s: empty API key", provider)
	}
	re, ok := credentialFormats[provider]
	if !ok {
		return nil
	}
	if !re.MatchString(key) {
		return fmt.Errorf("%s: API key does not match expected format", provider)
	}
	return nil
}

// Probe issues a minimal one-token request against the provider and maps
// the outcome: nil means the credential works, a credential_invalid Error
// means it is bad, and any other failure is inconclusive and must not be
// treated as an invalid key.
func Probe(ctx context.Context, p Provider, model string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	_, err := p.Complete(ctx, &Request{
		Model:     model,
		Messages:  []*models.Message{{Role: models.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err == nil {
		return nil
	}
	if pe, ok := AsError(err); ok && pe.Category == CategoryCredential {
		return pe
	}
	return fmt.Errorf("credential probe inconclusive: %w", err)
}
