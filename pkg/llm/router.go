package llm

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// ProviderFactory lazily builds a provider the first time it is needed.
type ProviderFactory func(Config) (Provider, error)

// Router dispatches requests to providers keyed by name.
type Router struct {
	config    Config
	mu        sync.Mutex
	factories map[string]ProviderFactory
	providers map[string]Provider
	// models caches provider model listings by provider name.
	models map[string][]string
}

var _ Invoker = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProvider installs a ready provider, replacing any factory of the same name.
func WithProvider(p Provider) RouterOption {
	return func(r *Router) {
		r.providers[p.Name()] = p
	}
}

// WithProviderFactory registers a lazily constructed provider.
func WithProviderFactory(name string, f ProviderFactory) RouterOption {
	return func(r *Router) {
		r.factories[name] = f
	}
}

// NewRouter creates a router with the anthropic, openai and google adapters registered.
func NewRouter(config Config, opts ...RouterOption) *Router {
	r := &Router{
		config: config,
		factories: map[string]ProviderFactory{
			"anthropic": NewAnthropicProvider,
			"openai":    NewOpenAIProvider,
			"google":    NewGoogleProvider,
		},
		providers: make(map[string]Provider),
		models:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultModel returns the configured model in provider/model form.
func (r *Router) DefaultModel() string {
	if r.config.Model == "" {
		return ""
	}
	p, m := r.resolve(r.config.Model)
	return p + "/" + m
}

func (r *Router) resolve(name string) (provider, model string) {
	provider, model = SplitModel(name)
	if provider == "" {
		provider = InferProvider(model)
	}
	if provider == "" {
		provider = r.config.Provider
	}
	return provider, model
}

// CheckModel reports whether name can be served. The configured default model
// is always accepted. Any other model must be in the allowed models list or,
// when no list is configured, in the listing of its provider. A provider that
// cannot list its models only serves the default.
func (r *Router) CheckModel(ctx context.Context, name string) error {
	provider, model := r.resolve(name)
	if model == "" {
		return errors.Wrap(ErrModelUnavailable, "empty model name")
	}
	r.mu.Lock()
	_, ready := r.providers[provider]
	_, known := r.factories[provider]
	r.mu.Unlock()
	if !ready && !known {
		return errors.Wrapf(ErrModelUnavailable, "no provider %q for model %s", provider, model)
	}
	if r.config.Model != "" {
		if p, m := r.resolve(r.config.Model); p == provider && m == model {
			return nil
		}
	}
	if len(r.config.Models) > 0 {
		if !slices.Contains(r.config.Models, model) && !slices.Contains(r.config.Models, provider+"/"+model) {
			return errors.Wrapf(ErrModelUnavailable, "model %s is not in the allowed models list", model)
		}
		return nil
	}

	available, err := r.listModels(ctx, provider)
	if err != nil {
		return errors.Wrapf(ErrModelUnavailable, "cannot verify model %s: %v", model, err)
	}
	if !slices.Contains(available, model) {
		return errors.Wrapf(ErrModelUnavailable, "model %s is not offered by %s", model, provider)
	}
	return nil
}

func (r *Router) listModels(ctx context.Context, providerName string) ([]string, error) {
	r.mu.Lock()
	cached, ok := r.models[providerName]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	p, err := r.provider(providerName)
	if err != nil {
		return nil, err
	}
	lister, ok := p.(ModelLister)
	if !ok {
		return nil, errors.Errorf("provider %s cannot list its models", providerName)
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s models", providerName)
	}
	logger.G(ctx).WithField("provider", providerName).WithField("count", len(models)).Debug("listed provider models")

	r.mu.Lock()
	r.models[providerName] = models
	r.mu.Unlock()
	return models, nil
}

func (r *Router) provider(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, errors.Wrapf(ErrModelUnavailable, "unknown provider %q", name)
	}
	p, err := f(r.config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s provider", name)
	}
	r.providers[name] = p
	return p, nil
}

// Invoke sends req to the provider owning req.Model, or the default model when empty.
func (r *Router) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = r.config.Model
	}
	if err := r.CheckModel(ctx, req.Model); err != nil {
		return nil, err
	}
	providerName, model := r.resolve(req.Model)
	p, err := r.provider(providerName)
	if err != nil {
		return nil, err
	}
	req.Model = model
	if req.MaxTokens <= 0 {
		req.MaxTokens = r.config.MaxTokens
	}

	var resp *Response
	err = telemetry.WithSpan(ctx, "llm.invoke", func(ctx context.Context) error {
		return r.withRetry(ctx, func() error {
			var err error
			resp, err = p.Complete(ctx, req)
			return err
		})
	}, attribute.String("llm.provider", providerName), attribute.String("llm.model", model))
	if err != nil {
		return nil, err
	}
	telemetry.AddEvent(ctx, "llm.response",
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens))
	return resp, nil
}

func (r *Router) withRetry(ctx context.Context, operation func() error) error {
	config := r.config.Retry
	if config.Attempts <= 1 {
		return operation()
	}

	delayType := retry.BackOffDelay
	if config.BackoffType == "fixed" {
		delayType = retry.FixedDelay
	}

	var originalErrors []error
	err := retry.Do(
		func() error {
			err := operation()
			if err != nil {
				originalErrors = append(originalErrors, err)
			}
			return err
		},
		retry.RetryIf(IsRetryable),
		retry.Attempts(uint(config.Attempts)),
		retry.Delay(time.Duration(config.InitialDelay)*time.Millisecond),
		retry.MaxDelay(time.Duration(config.MaxDelay)*time.Millisecond),
		retry.DelayType(delayType),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("max_attempts", config.Attempts).Warn("retrying model request")
		}),
	)
	if err != nil && len(originalErrors) > 1 {
		return errors.Wrapf(err, "model request failed after %d attempts", len(originalErrors))
	}
	return err
}

// IsRetryable reports whether err looks like a transient transport failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"internal error",
		"overloaded",
		"rate limit",
		"too many requests",
		"529",
		"503",
		"429",
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
