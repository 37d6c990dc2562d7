package main

import (
	"context"
	"net/http"
	"net/url"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/config"
	"github.com/sells-group/annotate-cli/internal/cost"
	"github.com/sells-group/annotate-cli/internal/extract"
	"github.com/sells-group/annotate-cli/internal/prompt"
	"github.com/sells-group/annotate-cli/internal/provider"
	"github.com/sells-group/annotate-cli/internal/resilience"
	"github.com/sells-group/annotate-cli/internal/store"
	"github.com/sells-group/annotate-cli/internal/synth"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
	anthropicpkg "github.com/sells-group/annotate-cli/pkg/anthropic"
)

// annotateEnv holds the catalog, provider, extractor and (optionally) the
// store needed by the extract/batch/serve commands.
type annotateEnv struct {
	Catalog   *taxonomy.Catalog
	Provider  provider.Provider
	Breaker   *resilience.CircuitBreaker
	Extractor *extract.Extractor
	Store     store.Store // nil unless requested
}

// Close releases resources held by the environment.
func (e *annotateEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Runner returns a Runner that records runs in the environment's store.
func (e *annotateEnv) Runner() *extract.Runner {
	return extract.NewRunner(e.Extractor, e.Store, cfg.Batch.DLQMaxRetries)
}

// initEnv validates the config for mode, loads the taxonomy catalog and
// builds the guarded provider and the extractor. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string, withStore bool) (*annotateEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	catalog, err := taxonomy.LoadCatalog(cfg.Taxonomy.Paths...)
	if err != nil {
		return nil, eris.Wrap(err, "load taxonomies")
	}
	if _, err := catalog.Get(cfg.Taxonomy.Name); err != nil {
		return nil, eris.Wrapf(err, "default taxonomy %q", cfg.Taxonomy.Name)
	}

	p, breaker, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	env := &annotateEnv{
		Catalog:   catalog,
		Provider:  p,
		Breaker:   breaker,
		Extractor: extract.New(p, catalog, cfg.Taxonomy.Name, extractOptions(cfg)),
	}

	if withStore {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}

	zap.L().Info("annotate environment ready",
		zap.String("provider", p.Name()),
		zap.String("model", cfg.LLM.Model),
		zap.String("taxonomy", cfg.Taxonomy.Name),
		zap.Strings("taxonomies", catalog.Names()),
	)
	return env, nil
}

// newProvider builds the configured backend wrapped with the shared rate
// limiter and circuit breaker.
func newProvider(c *config.Config) (provider.Provider, *resilience.CircuitBreaker, error) {
	var base provider.Provider
	switch c.LLM.Provider {
	case provider.NameAnthropic:
		var opts []option.RequestOption
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(c.Anthropic.BaseURL))
		}
		costs := cost.NewCalculator(c.Rates())
		if !costs.Known(c.LLM.Model) {
			zap.L().Warn("no pricing for model, cost will be reported as zero", zap.String("model", c.LLM.Model))
		}
		base = provider.NewAnthropic(anthropicpkg.NewClient(c.Anthropic.Key, opts...), provider.AnthropicOptions{
			Model:    c.LLM.Model,
			Stream:   c.LLM.Stream,
			CacheTTL: c.Anthropic.CacheTTL,
			Costs:    costs,
		})
	case provider.NameOllama:
		client, err := newOllamaClient(c.Ollama.Host)
		if err != nil {
			return nil, nil, err
		}
		base = provider.NewOllama(client, provider.OllamaOptions{
			Model:     c.LLM.Model,
			KeepAlive: c.Ollama.KeepAlive,
		})
	default:
		return nil, nil, eris.Wrapf(provider.ErrUnknownProvider, "llm.provider %q", c.LLM.Provider)
	}

	cbCfg := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	cbCfg.Name = base.Name()
	breaker := resilience.NewCircuitBreaker(cbCfg)
	return provider.NewGuarded(base, c.LLM.RequestsPerMinute, breaker), breaker, nil
}

func newOllamaClient(host string) (*api.Client, error) {
	if host == "" {
		client, err := api.ClientFromEnvironment()
		return client, eris.Wrap(err, "ollama client from environment")
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, eris.Wrapf(err, "parse ollama.host %q", host)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

// extractOptions maps the extract, align, synth and llm config sections
// onto extract.Options.
func extractOptions(c *config.Config) extract.Options {
	return extract.Options{
		MaxChunkChars:       c.Extract.MaxChunkChars,
		ChunkTolerance:      c.Extract.ChunkTolerance,
		MaxEntitiesPerChunk: c.Extract.MaxEntitiesPerChunk,
		ChunkTimeout:        c.Extract.ChunkTimeout(),
		DocumentBudget:      c.Extract.DocumentBudget(),
		RetryCount:          c.Extract.RetryCount,
		RetryBackoff:        c.Extract.RetryBackoff(),
		ContinueOnError:     c.Extract.ContinueOnError,
		FoldWidth:           c.Align.FoldWidth,
		Prompt: prompt.Options{
			Model:          c.LLM.Model,
			MaxTokens:      c.LLM.MaxTokens,
			Temperature:    c.LLM.Temperature,
			MaxEntities:    c.Extract.MaxEntitiesPerChunk,
			Reasoning:      c.LLM.Reasoning,
			ThinkingBudget: c.LLM.ThinkingBudget,
			CacheSystem:    c.LLM.Provider == provider.NameAnthropic,
		},
		Synth: synth.Options{
			DefaultConfidence: c.Synth.DefaultConfidence,
			Boost:             c.Synth.Boost,
			Penalty:           c.Synth.Penalty,
		},
	}
}

func platformOptions(c *config.Config) synth.PlatformOptions {
	return synth.PlatformOptions{
		FromName: c.Platform.FromName,
		ToName:   c.Platform.ToName,
		Type:     c.Platform.Type,
	}
}

// initStore opens and migrates the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}
