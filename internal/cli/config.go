// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/canonical/querymap"
)

// envPrefix is the prefix of the environment variables read by LoadConfig.
const envPrefix = "QUERYMAP_"

// defaultType is the database family used when none is configured.
const defaultType = "mysql"

// cliFlags are flags of the command line that are not database settings.
var cliFlags = map[string]bool{
	"config":  true,
	"verbose": true,
	"output":  true,
}

// LoadConfig loads the database configuration. Later sources override
// earlier ones: defaults, the YAML file cfgFile, QUERYMAP_ environment
// variables and the flags that were set on the command line.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (querymap.Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"type": defaultType,
	}, "."), nil); err != nil {
		return querymap.Config{}, errors.Wrap(err, "cannot load defaults")
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return querymap.Config{}, errors.Wrapf(err, "cannot read config file %s", cfgFile)
		}
	}

	// QUERYMAP_DSN -> dsn
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return querymap.Config{}, errors.Wrap(err, "cannot load environment")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed || cliFlags[f.Name] {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return querymap.Config{}, errors.Wrap(err, "cannot load flags")
		}
	}

	var cfg querymap.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return querymap.Config{}, errors.Wrap(err, "cannot decode config")
	}
	if _, err := cfg.Family(); err != nil {
		return querymap.Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
