package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "routetrack.cfg.json"

// Platforms select how location fixes reach the process.
const (
	// PlatformService runs a background service next to a foreground watcher.
	PlatformService = "service"
	// PlatformForeground runs a single in-process watcher.
	PlatformForeground = "foreground"
)

var validate = validator.New()

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("platform", PlatformService)
	viper.SetDefault("units", "metric")

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./routetrack.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "routetrack")
	viper.SetDefault("storage.postgres.sslmode", "disable")

	viper.SetDefault("registry.path", "./active.json")

	viper.SetDefault("cadence.tracking.interval", "5s")
	viper.SetDefault("cadence.tracking.distance", 6)
	viper.SetDefault("cadence.paused.interval", "60s")
	viper.SetDefault("cadence.paused.distance", 50)

	viper.SetDefault("coordinator.switchDebounce", "10s")
	viper.SetDefault("coordinator.queueSize", 64)

	viper.SetDefault("controller.startCooldown", "300ms")

	viper.SetDefault("filter.seedAccuracyMax", 35)
	viper.SetDefault("filter.seedStreak", 2)
	viper.SetDefault("filter.warmCountAccuracyMax", 45)
	viper.SetDefault("filter.warmAccepts", 12)
	viper.SetDefault("filter.speedGating", true)
	viper.SetDefault("filter.outlierGate.enabled", false)
	viper.SetDefault("filter.outlierGate.processNoise", 1.0)
	viper.SetDefault("filter.outlierGate.gateMahalanobisSq", 9.0)
	viper.SetDefault("filter.outlierGate.defaultAccuracy", 10)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "routetrack")
	viper.SetDefault("otel.exportInterval", "30s")
	viper.SetDefault("otel.outputFile", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "routetrack")
	viper.SetDefault("influx.bucket", "tracks")
	viper.SetDefault("influx.backupFile", "")

	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// settings mirrors the typed sections. Decoding the whole tree keeps
// defaults for keys a partial section in the file leaves out.
type settings struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Cadence     CadencesConfig    `mapstructure:"cadence"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Controller  ControllerConfig  `mapstructure:"controller"`
	Filter      FilterConfig      `mapstructure:"filter"`
	OTel        OTelConfig        `mapstructure:"otel"`
	Influx      InfluxConfig      `mapstructure:"influx"`
	Graylog     GraylogConfig     `mapstructure:"graylog"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
}

// section decodes all settings, picks one section and validates it.
func section[T any](name string, pick func(settings) T) (T, error) {
	var all settings
	var out T
	if err := viper.Unmarshal(&all); err != nil {
		return out, fmt.Errorf("decode %s: %w", name, err)
	}
	out = pick(all)
	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("invalid %s: %w", name, err)
	}
	return out, nil
}

// StorageConfig selects the track store database.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
	Postgres struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"postgres"`
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() (StorageConfig, error) {
	cfg, err := section("storage", func(s settings) StorageConfig { return s.Storage })
	if err != nil {
		return cfg, err
	}
	if cfg.Driver == "postgres" && cfg.Postgres.Host == "" {
		return cfg, fmt.Errorf("invalid storage: postgres needs a host")
	}
	return cfg, nil
}

// CadenceConfig is the sampling profile of one mode.
type CadenceConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	Distance float64       `mapstructure:"distance" validate:"gte=0"`
}

// CadencesConfig holds the tracking and paused profiles.
type CadencesConfig struct {
	Tracking CadenceConfig `mapstructure:"tracking"`
	Paused   CadenceConfig `mapstructure:"paused"`
}

// GetCadenceConfig returns the cadence section.
func GetCadenceConfig() (CadencesConfig, error) {
	return section("cadence", func(s settings) CadencesConfig { return s.Cadence })
}

// CoordinatorConfig tunes the location coordinator.
type CoordinatorConfig struct {
	SwitchDebounce time.Duration `mapstructure:"switchDebounce" validate:"gte=0"`
	// QueueSize is the delivery queue per context, 0 processes fixes synchronously.
	QueueSize int `mapstructure:"queueSize" validate:"gte=0"`
}

// GetCoordinatorConfig returns the coordinator section.
func GetCoordinatorConfig() (CoordinatorConfig, error) {
	return section("coordinator", func(s settings) CoordinatorConfig { return s.Coordinator })
}

// ControllerConfig tunes the session controller.
type ControllerConfig struct {
	StartCooldown time.Duration `mapstructure:"startCooldown" validate:"gte=0"`
}

// GetControllerConfig returns the controller section.
func GetControllerConfig() (ControllerConfig, error) {
	return section("controller", func(s settings) ControllerConfig { return s.Controller })
}

// FilterConfig holds the warm-up thresholds.
type FilterConfig struct {
	SeedAccuracyMax      float64 `mapstructure:"seedAccuracyMax" validate:"gt=0"`
	SeedStreak           int     `mapstructure:"seedStreak" validate:"gte=1"`
	WarmCountAccuracyMax float64 `mapstructure:"warmCountAccuracyMax" validate:"gt=0"`
	WarmAccepts          int     `mapstructure:"warmAccepts" validate:"gte=0"`
	SpeedGating          bool    `mapstructure:"speedGating"`
	OutlierGate          struct {
		Enabled           bool    `mapstructure:"enabled"`
		ProcessNoise      float64 `mapstructure:"processNoise" validate:"gt=0"`
		GateMahalanobisSq float64 `mapstructure:"gateMahalanobisSq" validate:"gt=0"`
		DefaultAccuracy   float64 `mapstructure:"defaultAccuracy" validate:"gt=0"`
	} `mapstructure:"outlierGate"`
}

// GetFilterConfig returns the filter section.
func GetFilterConfig() (FilterConfig, error) {
	return section("filter", func(s settings) FilterConfig { return s.Filter })
}

// OTelConfig configures the metrics exporter.
type OTelConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"serviceName" validate:"required"`
	ExportInterval time.Duration `mapstructure:"exportInterval" validate:"gt=0"`
	// OutputFile defaults to metrics.jsonl in logsDir.
	OutputFile string `mapstructure:"outputFile"`
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() (OTelConfig, error) {
	cfg, err := section("otel", func(s settings) OTelConfig { return s.OTel })
	if err != nil {
		return cfg, err
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = filepath.Join(viper.GetString("logsDir"), "metrics.jsonl")
	}
	return cfg, nil
}

// InfluxConfig configures the time-series sink.
type InfluxConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     string `mapstructure:"port"`
	Protocol string `mapstructure:"protocol" validate:"oneof=http https"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	Bucket   string `mapstructure:"bucket" validate:"required"`
	// BackupFile defaults to influx_backup.log.gz in logsDir.
	BackupFile string `mapstructure:"backupFile"`
}

// URL returns the server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() (InfluxConfig, error) {
	cfg, err := section("influx", func(s settings) InfluxConfig { return s.Influx })
	if err != nil {
		return cfg, err
	}
	if cfg.BackupFile == "" {
		cfg.BackupFile = filepath.Join(viper.GetString("logsDir"), "influx_backup.log.gz")
	}
	return cfg, nil
}

// GraylogConfig configures GELF log forwarding.
type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

// GetGraylogConfig returns the graylog section.
func GetGraylogConfig() (GraylogConfig, error) {
	return section("graylog", func(s settings) GraylogConfig { return s.Graylog })
}

// MonitorConfig configures the session status file.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	// StatusFile defaults to status.json in logsDir.
	StatusFile string `mapstructure:"statusFile"`
}

// GetMonitorConfig returns the monitor section.
func GetMonitorConfig() (MonitorConfig, error) {
	cfg, err := section("monitor", func(s settings) MonitorConfig { return s.Monitor })
	if err != nil {
		return cfg, err
	}
	if cfg.StatusFile == "" {
		cfg.StatusFile = filepath.Join(viper.GetString("logsDir"), "status.json")
	}
	return cfg, nil
}
