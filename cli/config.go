package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Settings collects the host configuration shared by the run and serve
// commands. Values resolve flag > environment (CHATFLOW_*) > config file >
// default, in viper's usual order.
type Settings struct {
	// Provider and Model select the LLM backend for runs that include an
	// LLM step. Empty Provider means no LLM client is built.
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`

	// Team is the owning team slug stamped onto run records and resources.
	Team string `mapstructure:"team"`

	// SQLitePath backs the resource and run stores. Empty selects the
	// in-memory stores.
	SQLitePath string `mapstructure:"sqlite_path"`

	// OTLPEndpoint enables trace export when set, host:port.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// addConfigFlags registers the settings-backed flags on a command.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "LLM provider name (anthropic | openai | ollama)")
	cmd.Flags().String("model", "", "LLM model name")
	cmd.Flags().String("team", "", "Owning team slug for run records")
	cmd.Flags().String("sqlite-path", "", "Path to the SQLite database (default: in-memory stores)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP collector endpoint for trace export")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for OTLP export")
}

// resolveSettings loads settings for a command invocation. The config file is
// taken from the persistent --config flag when set, otherwise searched for as
// chatflow.yaml in the working directory and ~/.chatflow/.
func resolveSettings(cmd *cobra.Command) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("chatflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".chatflow"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	for viperKey, flagName := range map[string]string{
		"provider":      "provider",
		"model":         "model",
		"team":          "team",
		"sqlite_path":   "sqlite-path",
		"otlp_endpoint": "otlp-endpoint",
		"otlp_insecure": "otlp-insecure",
	} {
		if flag := cmd.Flags().Lookup(flagName); flag != nil {
			if err := v.BindPFlag(viperKey, flag); err != nil {
				return Settings{}, fmt.Errorf("binding flag %s: %w", flagName, err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("decoding config: %w", err)
	}
	if settings.APIKey == "" {
		settings.APIKey = os.Getenv("CHATFLOW_API_KEY")
	}
	return settings, nil
}
