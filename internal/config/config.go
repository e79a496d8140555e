package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	GatewayURL         string `mapstructure:"gateway_url"`
	AppURL             string `mapstructure:"app_url"`
	ClientID           string `mapstructure:"client_id"`
	ProjectID          string `mapstructure:"project_id"`
	RestKey            string `mapstructure:"rest_key"`
	RestSecret         string `mapstructure:"rest_secret"`
	UpdateAuthUser     string `mapstructure:"update_auth_user"`
	UpdateAuthPass     string `mapstructure:"update_auth_pass"`
	DisableCoreUpdates bool   `mapstructure:"disable_core_updates"`
	EdgeUpdates        bool   `mapstructure:"edge_updates"`
	PublicKeyFile      string `mapstructure:"public_key_file"`

	DatabaseDSN    string `mapstructure:"database_dsn"`
	MigrationTable string `mapstructure:"migration_table"`
	ManifestFile   string `mapstructure:"manifest_file"`
	DataDir        string `mapstructure:"data_dir"`
	TempDir        string `mapstructure:"temp_dir"`

	CheckIntervalHours int    `mapstructure:"check_interval_hours"`
	LogLevel           string `mapstructure:"log_level"`
	LogFormat          string `mapstructure:"log_format"`
}

func Default() *Config {
	return &Config{
		GatewayURL:         "https://gateway.lattice-cms.com/api",
		ClientID:           "lattice-updater",
		DisableCoreUpdates: true,
		MigrationTable:     "lattice_migrations",
		DataDir:            defaultDataDir(),
		TempDir:            filepath.Join(os.TempDir(), "lattice-updater"),
		CheckIntervalHours: 24,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("updater")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LATTICE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.ManifestFile == "" {
		cfg.ManifestFile = filepath.Join(cfg.DataDir, "units.yaml")
	}

	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Lattice")
	case "darwin":
		return "/Library/Application Support/Lattice"
	default:
		return "/etc/lattice"
	}
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Lattice", "updater")
	case "darwin":
		return "/Library/Application Support/Lattice/updater"
	default:
		return "/var/lib/lattice/updater"
	}
}
