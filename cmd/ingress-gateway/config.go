package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/goliatone/go-config/config"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/v2"

	"github.com/goliatone/go-ingress/core"
)

const (
	envPrefix     = "INGRESS_"
	envDelimiter  = "__"
	envConfigFile = "INGRESS_CONFIG_FILE"
)

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// providerConfigLoader reads go-config providers into one koanf tree and
// hands the raw values to the cfgx pipeline, where the duration and cost
// hooks give them their types.
type providerConfigLoader struct {
	name     string
	builders []config.ProviderBuilder[core.Config]
}

func (l providerConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	if len(l.builders) == 0 {
		return map[string]any{}, nil
	}
	container := config.New(core.DefaultConfig())
	tree := koanf.New(config.DefaultDelimiter)
	for _, build := range l.builders {
		provider, err := build(container)
		if err != nil {
			return nil, fmt.Errorf("%s config: %w", l.name, err)
		}
		if err := provider.Load(ctx, tree); err != nil {
			return nil, fmt.Errorf("%s config: %w", l.name, err)
		}
	}
	return tree.Raw(), nil
}

// fileConfigLoader reads an optional YAML or JSON file. An empty path yields
// no values; a path that does not exist is an error.
func fileConfigLoader(path string) core.RawConfigLoader {
	path = strings.TrimSpace(path)
	if path == "" {
		return providerConfigLoader{name: "file"}
	}
	return core.RawConfigLoaderFunc(func(ctx context.Context) (map[string]any, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return providerConfigLoader{
			name:     "file " + path,
			builders: []config.ProviderBuilder[core.Config]{config.FileProvider[core.Config](path)},
		}.LoadRaw(ctx)
	})
}

// envConfigLoader reads INGRESS_* variables. A double underscore nests keys,
// so INGRESS_HTTP__REQUEST_TIMEOUT sets http.request_timeout.
func envConfigLoader() core.RawConfigLoader {
	return providerConfigLoader{
		name:     "env",
		builders: []config.ProviderBuilder[core.Config]{config.EnvProvider[core.Config](envPrefix, envDelimiter)},
	}
}

// loadConfig resolves defaults < file < env into a validated config.
func loadConfig(ctx context.Context, configFile string) (core.Config, error) {
	if strings.TrimSpace(configFile) == "" {
		configFile = os.Getenv(envConfigFile)
	}
	loader := core.LayeredRawConfigLoader{
		File: fileConfigLoader(configFile),
		Env:  envConfigLoader(),
	}
	return core.LoadConfig(ctx, core.NewCfgxConfigProvider(loader), core.GoOptionsResolver{}, core.Config{})
}
