package server

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding configuration.
const EnvPrefix = "ASSETGRAPH"

// Env is configuration from environment variables, like ASSETGRAPH_FETCHER_DSN.
//
// Non-empty values override ones in a config file.
type Env struct {
	Listen          string `envconfig:"LISTEN"`
	LogLevel        string `envconfig:"LOGLEVEL"`
	FetcherKind     string `envconfig:"FETCHER_KIND"`
	FetcherEndpoint string `envconfig:"FETCHER_ENDPOINT"`
	FetcherDSN      string `envconfig:"FETCHER_DSN"`
}

// load assetgraphd config from a file, and override it with environment variables.
//
// # Args
//
// - filepath: filepath refers a config file. If empty, only environment variables are used.
//
// # Returns
//
// - *ServerConfig: loaded config.
//
// - error: error on reading, parsing or validating. Misconfiguration wraps ErrInvalidConfig.
func LoadServerConfig(filepath string) (*ServerConfig, error) {
	content := []byte{}
	if filepath != "" {
		c, err := os.ReadFile(filepath)
		if err != nil {
			return nil, err
		}
		content = c
	}

	env := Env{}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, err
	}
	return Unmarshal(content, env)
}

// Unmarshal parses yaml, overrides it with env, and seals.
func Unmarshal(conf []byte, env Env) (*ServerConfig, error) {
	out := &ServerConfigMarshall{}
	if err := yaml.Unmarshal(conf, out); err != nil {
		return nil, err
	}
	env.apply(out)
	return TrySeal(out)
}

func (e Env) apply(m *ServerConfigMarshall) {
	if e.Listen != "" {
		m.Listen = e.Listen
	}
	if e.LogLevel != "" {
		m.LogLevel = e.LogLevel
	}
	if e.FetcherKind == "" && e.FetcherEndpoint == "" && e.FetcherDSN == "" {
		return
	}
	if m.Fetcher == nil {
		m.Fetcher = &FetcherConfigMarshall{}
	}
	if e.FetcherKind != "" {
		m.Fetcher.Kind = e.FetcherKind
	}
	if e.FetcherEndpoint != "" {
		m.Fetcher.Endpoint = e.FetcherEndpoint
	}
	if e.FetcherDSN != "" {
		m.Fetcher.DSN = e.FetcherDSN
	}
}
