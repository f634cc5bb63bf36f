package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// LocalTrackingURI is used whenever no access token is configured.
const LocalTrackingURI = "file:./mlruns"

type Config struct {
	Tracking     TrackingConfig
	Registration RegistrationConfig
	Logger       LoggerConfig
}

type TrackingConfig struct {
	// URI, when set, overrides the token based selection below.
	URI            string
	URL            string
	Username       string
	Token          string
	ExperimentName string
	ArtifactRoot   string
	Timeout        time.Duration
}

type RegistrationConfig struct {
	ModelName      string
	ModelPath      string
	VectorizerPath string
	ArtifactPath   string
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
}

type LoggerConfig struct {
	Level     string
	Format    string
	ErrorFile string
}

// ResolveURI picks the tracking backend: the remote endpoint when an access
// token is present, the local directory store otherwise.
func (c TrackingConfig) ResolveURI() string {
	if c.URI != "" {
		return c.URI
	}
	if c.Token != "" && c.URL != "" {
		return c.URL
	}
	return LocalTrackingURI
}

// Credentials returns the basic-auth pair for the remote endpoint, empty when
// no token is configured.
func (c TrackingConfig) Credentials() (username, password string) {
	if c.Token == "" {
		return "", ""
	}
	return c.Username, c.Token
}

// Load reads an optional .env file from envFile, then the process environment.
// Environment variables win over the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("DAGSHUB_USERNAME", "sohamfcb")
	v.SetDefault("DAGSHUB_PAT", "")
	v.SetDefault("MLFLOW_URL", "")
	v.SetDefault("MLFLOW_TRACKING_URI", "")
	v.SetDefault("MLFLOW_EXPERIMENT_NAME", "Default")
	v.SetDefault("TRACKING_ARTIFACT_ROOT", "./mlartifacts")
	v.SetDefault("TRACKING_TIMEOUT", "30s")
	v.SetDefault("REGISTRATION_MODEL_NAME", "yt_chrome_plugin_model")
	v.SetDefault("REGISTRATION_MODEL_PATH", "lgbm_model.json")
	v.SetDefault("REGISTRATION_VECTORIZER_PATH", "tfidf_vectorizer.json")
	v.SetDefault("REGISTRATION_ARTIFACT_PATH", "lgbm_model")
	v.SetDefault("REGISTRATION_READY_TIMEOUT", "300s")
	v.SetDefault("REGISTRATION_POLL_INTERVAL", "1s")
	v.SetDefault("LOGGER_LEVEL", "debug")
	v.SetDefault("LOGGER_FORMAT", "text")
	v.SetDefault("LOGGER_ERROR_FILE", "model_registration_errors.log")

	// .env
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Env
	v.AutomaticEnv()

	cfg := &Config{
		Tracking: TrackingConfig{
			URI:            v.GetString("MLFLOW_TRACKING_URI"),
			URL:            v.GetString("MLFLOW_URL"),
			Username:       v.GetString("DAGSHUB_USERNAME"),
			Token:          v.GetString("DAGSHUB_PAT"),
			ExperimentName: v.GetString("MLFLOW_EXPERIMENT_NAME"),
			ArtifactRoot:   v.GetString("TRACKING_ARTIFACT_ROOT"),
			Timeout:        parseDuration(v.GetString("TRACKING_TIMEOUT"), 30*time.Second),
		},
		Registration: RegistrationConfig{
			ModelName:      v.GetString("REGISTRATION_MODEL_NAME"),
			ModelPath:      v.GetString("REGISTRATION_MODEL_PATH"),
			VectorizerPath: v.GetString("REGISTRATION_VECTORIZER_PATH"),
			ArtifactPath:   v.GetString("REGISTRATION_ARTIFACT_PATH"),
			ReadyTimeout:   parseDuration(v.GetString("REGISTRATION_READY_TIMEOUT"), 300*time.Second),
			PollInterval:   parseDuration(v.GetString("REGISTRATION_POLL_INTERVAL"), time.Second),
		},
		Logger: LoggerConfig{
			Level:     v.GetString("LOGGER_LEVEL"),
			Format:    v.GetString("LOGGER_FORMAT"),
			ErrorFile: v.GetString("LOGGER_ERROR_FILE"),
		},
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
