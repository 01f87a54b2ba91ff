package main

import (
	"fmt"
	"os"

	"github.com/pyrite-go/kbsearch/internal/cli"
	"github.com/pyrite-go/kbsearch/internal/config"
	"github.com/pyrite-go/kbsearch/internal/embedding"
	"github.com/pyrite-go/kbsearch/internal/expand"
	"github.com/pyrite-go/kbsearch/internal/store"
)

// openStore opens the index database at config.IndexPath, creating the
// data directory's schema as needed. Failures are treated as configuration
// errors: the index can't be reached at all.
func openStore() (*store.DB, error) {
	db, err := store.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrNoDatabase, err)
	}
	return db, nil
}

// embeddingProviderConfig adapts config.EmbeddingConfig to the
// embedding package's own ProviderConfig.
func embeddingProviderConfig() embedding.ProviderConfig {
	ec := config.EmbeddingProviderConfig()
	return embedding.ProviderConfig{
		Provider:   ec.Provider,
		Model:      ec.Model,
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Dimensions: ec.Dimensions,
	}
}

// newEmbedProvider builds the configured embedding provider. A "none"
// provider or a misconfigured one degrades to nil: callers fall back to
// keyword-only search or skip embedding work rather than hard-failing.
func newEmbedProvider() embedding.Provider {
	pc := embeddingProviderConfig()
	if pc.Provider == "none" {
		return nil
	}
	p, err := embedding.NewProvider(pc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "same: warning: embedding provider unavailable: %v\n", err)
		return nil
	}
	return p
}

// newExpander builds the configured query-expansion provider.
func newExpander() expand.Expander {
	ai := config.AISettings()
	return expand.NewExpander(ai.Provider, ai.Model, ai.APIKey)
}

// printErrf prints a same-prefixed error line to stderr.
func printErrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s%ssame: %s%s\n", cli.Red, cli.Bold, fmt.Sprintf(format, args...), cli.Reset)
}
