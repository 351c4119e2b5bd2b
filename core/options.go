package core

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// RawConfigLoaderFunc adapts a function to RawConfigLoader.
type RawConfigLoaderFunc func(ctx context.Context) (map[string]any, error)

func (fn RawConfigLoaderFunc) LoadRaw(ctx context.Context) (map[string]any, error) {
	if fn == nil {
		return map[string]any{}, nil
	}
	return fn(ctx)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return CloneMap(l.Values), nil
}

// LayeredRawConfigLoader merges a file source and an environment source with
// go-options, environment values winning.
type LayeredRawConfigLoader struct {
	File RawConfigLoader
	Env  RawConfigLoader
}

func (l LayeredRawConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	fileValues, err := loadRawOrEmpty(ctx, l.File)
	if err != nil {
		return nil, fmt.Errorf("core: load file config: %w", err)
	}
	envValues, err := loadRawOrEmpty(ctx, l.Env)
	if err != nil {
		return nil, fmt.Errorf("core: load env config: %w", err)
	}
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("file", 10),
			fileValues,
			opts.WithSnapshotID[map[string]any]("file"),
		),
		opts.NewLayer(
			opts.NewScope("env", 20),
			envValues,
			opts.WithSnapshotID[map[string]any]("env"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("core: config layer stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return nil, fmt.Errorf("core: config layer merge failed: %w", err)
	}
	return merged.Value, nil
}

func loadRawOrEmpty(ctx context.Context, loader RawConfigLoader) (map[string]any, error) {
	if loader == nil {
		return map[string]any{}, nil
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw, buildOptions(defaults)...)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value, buildOptions(defaults)...)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func buildOptions(defaults Config) []cfgx.Option[Config] {
	return []cfgx.Option[Config]{
		cfgx.WithDefaults(defaults),
		cfgx.WithoutDefaultHooks[Config](),
		cfgx.WithDecodeHooks[Config](ConfigDecodeHooks()...),
		cfgx.WithValidator[Config]((*Config).Validate),
	}
}

// ConfigDecodeHooks runs the gateway hooks ahead of the cfgx defaults.
func ConfigDecodeHooks() []mapstructure.DecodeHookFunc {
	hooks := []mapstructure.DecodeHookFunc{SecondsDurationHook(), CostTableHook()}
	return append(hooks, cfgx.DefaultDecodeHooks()...)
}

var (
	durationType  = reflect.TypeOf(time.Duration(0))
	costTableType = reflect.TypeOf(map[string]int64(nil))
)

// SecondsDurationHook decodes a bare number, or a numeric string, into a
// duration of that many seconds. Values that are already durations and Go
// duration strings such as "1m30s" pass through.
func SecondsDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		value := reflect.ValueOf(data)
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(value.Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(value.Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(value.Float() * float64(time.Second)), nil
		case reflect.String:
			trimmed := strings.TrimSpace(value.String())
			if seconds, err := strconv.ParseFloat(trimmed, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return trimmed, nil
		}
		return data, nil
	}
}

// CostTableHook decodes balance costs from "event=cost,event=cost" strings
// and from nested maps produced by splitting dotted event names such as
// message.created on ".".
func CostTableHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != costTableType {
			return data, nil
		}
		switch typed := data.(type) {
		case string:
			return parseCostPairs(typed)
		case map[string]any:
			flat := map[string]any{}
			flattenCosts("", typed, flat)
			return flat, nil
		}
		return data, nil
	}
}

func parseCostPairs(raw string) (map[string]any, error) {
	out := map[string]any{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		event, cost, ok := strings.Cut(pair, "=")
		event = strings.TrimSpace(event)
		if !ok || event == "" {
			return nil, fmt.Errorf("core: balance cost %q: expected event=cost", pair)
		}
		out[event] = strings.TrimSpace(cost)
	}
	return out, nil
}

func flattenCosts(prefix string, in map[string]any, out map[string]any) {
	for key, value := range in {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenCosts(name, nested, out)
			continue
		}
		out[name] = value
	}
}

// LoadConfig runs the provider and resolver pipeline: defaults, then loaded
// sources, then runtime overrides.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, MapError(err)
	}
	resolved, err := resolver.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, MapError(err)
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setNumber := func(target map[string]any, key string, value any, zero bool) {
		if includeZero || !zero {
			target[key] = value
		}
	}
	nest := func(key string, section map[string]any) {
		if includeZero || len(section) > 0 {
			layer[key] = section
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "version", cfg.Version)

	httpLayer := map[string]any{}
	setString(httpLayer, "addr", cfg.HTTP.Addr)
	setNumber(httpLayer, "max_body_bytes", cfg.HTTP.MaxBodyBytes, cfg.HTTP.MaxBodyBytes == 0)
	setNumber(httpLayer, "request_timeout", cfg.HTTP.RequestTimeout, cfg.HTTP.RequestTimeout == 0)
	setNumber(httpLayer, "rate_limit_rps", cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitRPS == 0)
	setNumber(httpLayer, "rate_limit_burst", cfg.HTTP.RateLimitBurst, cfg.HTTP.RateLimitBurst == 0)
	nest("http", httpLayer)

	authLayer := map[string]any{}
	setString(authLayer, "jwt_secret", cfg.Auth.JWTSecret)
	setString(authLayer, "hmac_secret", cfg.Auth.HMACSecret)
	setString(authLayer, "service_name", cfg.Auth.ServiceName)
	setString(authLayer, "signature_header", cfg.Auth.SignatureHeader)
	setString(authLayer, "service_jwt_secret", cfg.Auth.ServiceJWTSecret)
	setNumber(authLayer, "token_ttl", cfg.Auth.TokenTTL, cfg.Auth.TokenTTL == 0)
	setNumber(authLayer, "clock_skew", cfg.Auth.ClockSkew, cfg.Auth.ClockSkew == 0)
	nest("auth", authLayer)

	workflowLayer := map[string]any{}
	setString(workflowLayer, "url", cfg.Workflow.URL)
	setNumber(workflowLayer, "timeout", cfg.Workflow.Timeout, cfg.Workflow.Timeout == 0)
	setString(workflowLayer, "public_base_url", cfg.Workflow.PublicBaseURL)
	setString(workflowLayer, "callback_path", cfg.Workflow.CallbackPath)
	nest("workflow", workflowLayer)

	balanceLayer := map[string]any{}
	setString(balanceLayer, "mode", cfg.Balance.Mode)
	if includeZero || len(cfg.Balance.Costs) > 0 {
		costs := make(map[string]any, len(cfg.Balance.Costs))
		for event, cost := range cfg.Balance.Costs {
			costs[event] = cost
		}
		balanceLayer["costs"] = costs
	}
	setString(balanceLayer, "estimated_processing_time", cfg.Balance.EstimatedProcessingTime)
	nest("balance", balanceLayer)

	idempotencyLayer := map[string]any{}
	setString(idempotencyLayer, "failure_policy", cfg.Idempotency.FailurePolicy)
	nest("idempotency", idempotencyLayer)

	threadsLayer := map[string]any{}
	setString(threadsLayer, "default_type", cfg.Threads.DefaultType)
	setNumber(threadsLayer, "cache_ttl", cfg.Threads.CacheTTL, cfg.Threads.CacheTTL == 0)
	nest("threads", threadsLayer)

	databaseLayer := map[string]any{}
	setString(databaseLayer, "driver", cfg.Database.Driver)
	setString(databaseLayer, "dsn", cfg.Database.DSN)
	setNumber(databaseLayer, "debug", cfg.Database.Debug, !cfg.Database.Debug)
	setNumber(databaseLayer, "ping_timeout", cfg.Database.PingTimeout, cfg.Database.PingTimeout == 0)
	nest("database", databaseLayer)

	return layer
}
