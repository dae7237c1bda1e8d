package engine

import (
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
)

type ApplicationConfig struct {
	// The application name used in logs and as the graphics API application name.
	Name string
	// Path of the TOML file the configuration was read from. Empty when
	// running on defaults; the file is watched for live changes otherwise.
	ConfigPath string
	LogLevel   core.LogLevel
	Config     config.Config
}

// LoadApplicationConfig reads path on top of the defaults. An empty path
// returns the defaults.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	return &ApplicationConfig{
		Name:       cfg.Testbed.Name,
		ConfigPath: path,
		LogLevel:   core.ParseLogLevel(cfg.Log.Level),
		Config:     cfg,
	}, nil
}
