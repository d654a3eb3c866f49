package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"receiptdrop"`
	}

	API struct {
		BaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
		Token   string        `envconfig:"API_TOKEN"`
		Timeout time.Duration `envconfig:"API_TIMEOUT" default:"2m"`
	}

	Upload struct {
		// MaxInFlight caps concurrent uploads; 0 dispatches the whole batch
		// at once.
		MaxInFlight int `envconfig:"UPLOAD_MAX_IN_FLIGHT" default:"0"`
		// Dir is where the file picker starts; defaults to the working dir.
		Dir string `envconfig:"UPLOAD_DIR"`
	}

	Devstub struct {
		Port int `envconfig:"DEVSTUB_PORT" default:"8080"`
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
