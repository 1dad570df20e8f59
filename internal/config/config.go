package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
)

var (
	configMutex   sync.RWMutex
	currentConfig *AppConfig
	activeViper   *viper.Viper

	validate = newValidator()

	errNoConfigFile = errors.New("no config file to watch")
)

// SimulatorConfig tunes the movement loop and route assignment.
type SimulatorConfig struct {
	IntervalMillis     int        `mapstructure:"interval_ms" validate:"gt=0"`
	Seed               int64      `mapstructure:"seed"` // 0 seeds from the clock
	StaggerMillis      int        `mapstructure:"stagger_ms" validate:"gte=0"`
	MinSpeedKmh        float64    `mapstructure:"min_speed_kmh" validate:"gt=0,ltfield=MaxSpeedKmh"`
	MaxSpeedKmh        float64    `mapstructure:"max_speed_kmh" validate:"gt=0"`
	SpeedJitterKmh     float64    `mapstructure:"speed_jitter_kmh" validate:"gte=0"`
	InitialMinSpeedKmh float64    `mapstructure:"initial_min_speed_kmh" validate:"gt=0,ltefield=InitialMaxSpeedKmh"`
	InitialMaxSpeedKmh float64    `mapstructure:"initial_max_speed_kmh" validate:"gt=0"`
	MinWaypoints       int        `mapstructure:"min_waypoints" validate:"gte=2"`
	MaxElapsedSeconds  float64    `mapstructure:"max_elapsed_seconds" validate:"gte=0"`
	Bounds             geo.Bounds `mapstructure:"bounds"`
}

func (s SimulatorConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMillis) * time.Millisecond
}

func (s SimulatorConfig) Stagger() time.Duration {
	return time.Duration(s.StaggerMillis) * time.Millisecond
}

func (s SimulatorConfig) MaxElapsed() time.Duration {
	return time.Duration(s.MaxElapsedSeconds * float64(time.Second))
}

type BaseUrlConfig struct {
	BaseUrl string `mapstructure:"base_url" validate:"required,url"`
}

type GoogleConfig struct {
	APIKey        string `mapstructure:"api_key"`
	DirectionsURL string `mapstructure:"directions_url" validate:"required,url"`
	RoadsURL      string `mapstructure:"roads_url" validate:"required,url"`
}

// RoutingConfig selects the road geometry provider chain.
type RoutingConfig struct {
	Provider       string        `mapstructure:"provider" validate:"oneof=osrm google"`
	OSRM           BaseUrlConfig `mapstructure:"osrm"`
	Google         GoogleConfig  `mapstructure:"google"`
	SnapToRoads    bool          `mapstructure:"snap_to_roads"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds" validate:"gt=0"`
	Cache          bool          `mapstructure:"cache"`
}

func (r RoutingConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type DatasetConfig struct {
	Path string `mapstructure:"path"` // empty selects the embedded Johannesburg set
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// TelemetryConfig controls the AVL forwarder.
type TelemetryConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Address          string `mapstructure:"address" validate:"required_if=Enabled true,omitempty,hostname_port"`
	FrequencySeconds int    `mapstructure:"frequency_seconds" validate:"gt=0"`
}

func (t TelemetryConfig) Frequency() time.Duration {
	return time.Duration(t.FrequencySeconds) * time.Second
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// AppConfig holds entire config
type AppConfig struct {
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// Validate checks field constraints and the cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		b := sl.Current().Interface().(geo.Bounds)
		if b.MinLat >= b.MaxLat {
			sl.ReportError(b.MinLat, "MinLat", "min_lat", "ltfield", "MaxLat")
		}
		if b.MinLng >= b.MaxLng {
			sl.ReportError(b.MinLng, "MinLng", "min_lng", "ltfield", "MaxLng")
		}
	}, geo.Bounds{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(RoutingConfig)
		if (r.Provider == "google" || r.SnapToRoads) && r.Google.APIKey == "" {
			sl.ReportError(r.Google.APIKey, "Google.APIKey", "api_key", "required", "")
		}
	}, RoutingConfig{})
	return v
}

// setDefaults registers every key so the process runs without a file and
// every key can be overridden from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("simulator.interval_ms", 1200)
	v.SetDefault("simulator.seed", 0)
	v.SetDefault("simulator.stagger_ms", 150)
	v.SetDefault("simulator.min_speed_kmh", 25)
	v.SetDefault("simulator.max_speed_kmh", 45)
	v.SetDefault("simulator.speed_jitter_kmh", 2)
	v.SetDefault("simulator.initial_min_speed_kmh", 30)
	v.SetDefault("simulator.initial_max_speed_kmh", 40)
	v.SetDefault("simulator.min_waypoints", 10)
	v.SetDefault("simulator.max_elapsed_seconds", 10)
	v.SetDefault("simulator.bounds.min_lat", -26.5)
	v.SetDefault("simulator.bounds.max_lat", -25.5)
	v.SetDefault("simulator.bounds.min_lng", 27.5)
	v.SetDefault("simulator.bounds.max_lng", 28.5)

	v.SetDefault("routing.provider", "osrm")
	v.SetDefault("routing.osrm.base_url", "https://router.project-osrm.org")
	v.SetDefault("routing.google.api_key", "")
	v.SetDefault("routing.google.directions_url", "https://maps.googleapis.com/maps/api/directions/json")
	v.SetDefault("routing.google.roads_url", "https://roads.googleapis.com/v1/snapToRoads")
	v.SetDefault("routing.snap_to_roads", false)
	v.SetDefault("routing.timeout_seconds", 10)
	v.SetDefault("routing.cache", true)

	v.SetDefault("dataset.path", "")
	v.SetDefault("server.port", 8080)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.address", "")
	v.SetDefault("telemetry.frequency_seconds", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig initializes and loads the configuration. An empty path loads the
// defaults and environment only.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	configMutex.Lock()
	currentConfig = cfg
	activeViper = v
	configMutex.Unlock()

	return cfg, nil
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the file last passed to LoadConfig whenever it changes.
// Invalid reloads are logged and ignored; valid ones become current and are
// passed to onChange.
func Watch(onChange func(*AppConfig)) error {
	configMutex.RLock()
	v := activeViper
	configMutex.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return errNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("ignoring config reload", "file", e.Name, "err", err)
			return
		}
		configMutex.Lock()
		currentConfig = cfg
		configMutex.Unlock()

		slog.Info("config reloaded", "file", e.Name)
		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

// GetCurrentConfig returns the current configuration in a thread-safe way
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return currentConfig
}
