package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

const (
	// SecretFileName is the preferred credential file.
	SecretFileName = "config.SECRET.json"
	// SampleFileName is the fallback credential file shipped with the repo.
	SampleFileName = "config.SAMPLE.json"

	configTypeJSON = "json"
	// Credential keys contain dots ("goo.gl"), so the loader uses a
	// delimiter that cannot appear in them.
	keyDelimiter       = "::"
	keyShortenerAPIKey = "oauth_keys::goo.gl"

	errorMessageNoConfigFile = "config: no credential file found"
	errorMessageReadConfig   = "config: read credential file"
)

// ErrNoConfigFile indicates neither the secret nor the sample credential
// file exists.
var ErrNoConfigFile = errors.New(errorMessageNoConfigFile)

// Credentials carries the external API credentials used by the
// out-of-pipeline endpoints.
type Credentials struct {
	ShortenerAPIKey string
}

// Load reads credentials from the explicit path when given, otherwise from
// config.SECRET.json, falling back to config.SAMPLE.json.
func Load(explicitPath string) (Credentials, error) {
	selectedPath := explicitPath
	if selectedPath == "" {
		switch {
		case fileExists(SecretFileName):
			selectedPath = SecretFileName
		case fileExists(SampleFileName):
			selectedPath = SampleFileName
		default:
			return Credentials{}, ErrNoConfigFile
		}
	}

	loader := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	loader.SetConfigFile(selectedPath)
	loader.SetConfigType(configTypeJSON)
	if readErr := loader.ReadInConfig(); readErr != nil {
		return Credentials{}, fmt.Errorf("%s: %w", errorMessageReadConfig, readErr)
	}

	return Credentials{
		ShortenerAPIKey: loader.GetString(keyShortenerAPIKey),
	}, nil
}

func fileExists(path string) bool {
	info, statErr := os.Stat(path)
	return statErr == nil && !info.IsDir()
}
