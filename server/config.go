package server

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// AppConfig defines application configuration loaded from a yaml file and
// environment variables.
type AppConfig struct {
	Listen        string            `koanf:"listen"`
	PublicBaseURL string            `koanf:"public_base_url"`
	StateFile     string            `koanf:"state_file"`
	DataConnect   DataConnectConfig `koanf:"dataconnect"`
}

// DataConnectConfig carries the upstream credentials, one pair per
// environment. The redirect URI is shared: the provider sends every
// callback to the same endpoint and the state value does the routing.
type DataConnectConfig struct {
	RedirectURI string            `koanf:"redirect_uri"`
	Production  CredentialsConfig `koanf:"production"`
	Sandbox     CredentialsConfig `koanf:"sandbox"`
}

type CredentialsConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

// LoadConfig reads configuration in two layers:
// 1) the yaml file at path (skipped when absent),
// 2) environment variables with prefix DCP_, __ as nested separator,
// e.g. DCP_DATACONNECT__PRODUCTION__CLIENT_ID -> dataconnect.production.client_id.
func LoadConfig(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("DCP_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "DCP_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	c := &AppConfig{
		Listen:    ":3000",
		StateFile: "state.json",
	}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}
