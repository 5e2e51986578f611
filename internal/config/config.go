// Package config loads server settings from configs/config.yml, a .env file,
// MACHINE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"machine_control/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MACHINE"

// Temperature source kinds.
const (
	SourceWeather   = "weather"
	SourceModbus    = "modbus"
	SourceSimulated = "simulated"
)

type Config struct {
	Port           string            `mapstructure:"port"`
	Log            LogConfig         `mapstructure:"log"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
	Machine        MachineConfig     `mapstructure:"machine"`
	WebSocket      WebSocketConfig   `mapstructure:"websocket"`
	Temperature    TemperatureConfig `mapstructure:"temperature"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MachineConfig struct {
	MotorSpeed  float64       `mapstructure:"motor_speed"`
	ValveState  bool          `mapstructure:"valve_state"`
	Temperature float64       `mapstructure:"temperature"`
	Jitter      float64       `mapstructure:"jitter"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type WebSocketConfig struct {
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes"`
	UpdatesPerSecond float64       `mapstructure:"updates_per_second"`
	UpdateBurst      int           `mapstructure:"update_burst"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
}

type TemperatureConfig struct {
	Source       string        `mapstructure:"source"`
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Fallback     bool          `mapstructure:"fallback"`
	Weather      WeatherConfig `mapstructure:"weather"`
	Modbus       ModbusConfig  `mapstructure:"modbus"`
}

type WeatherConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	URL       string  `mapstructure:"url"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

type ModbusConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	UnitID   uint8         `mapstructure:"unit_id"`
	Address  uint16        `mapstructure:"address"`
	Register string        `mapstructure:"register"`
	Scale    float64       `mapstructure:"scale"`
	Signed   bool          `mapstructure:"signed"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// InitialState is the machine state the manager starts from.
func (c *Config) InitialState() models.MachineState {
	return models.MachineState{
		MotorSpeed:  c.Machine.MotorSpeed,
		ValveState:  c.Machine.ValveState,
		Temperature: c.Machine.Temperature,
	}
}

// Load reads configuration for the server binary. args excludes the program
// name. pflag.ErrHelp is returned as-is when --help was requested.
func Load(args []string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("temperature.weather.api_key", envPrefix+"_TEMPERATURE_WEATHER_API_KEY", "WEATHER_API_KEY"); err != nil {
		return nil, err
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewFlagSet returns the server's command-line flags.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("machine-control", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default: configs/config.yml if present)")
	fs.String("port", "", "HTTP listen port")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: console or json")
	fs.String("temperature-source", "", "temperature source: weather, modbus or simulated")
	fs.Duration("temperature-interval", 0, "temperature polling interval")
	fs.StringSlice("allowed-origins", nil, "allowed CORS / websocket origins")
	return fs
}

var flagKeys = map[string]string{
	"port":                 "port",
	"log-level":            "log.level",
	"log-format":           "log.format",
	"temperature-source":   "temperature.source",
	"temperature-interval": "temperature.interval",
	"allowed-origins":      "allowed_origins",
}

// bindFlags binds only flags the user set, so unset flags never mask
// environment variables or the config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.AddConfigPath("configs") // configs/config.yml
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("machine.motor_speed", 0.0)
	v.SetDefault("machine.valve_state", false)
	v.SetDefault("machine.temperature", models.DefaultTemperatureC)
	v.SetDefault("machine.jitter", 0.0)
	v.SetDefault("machine.send_timeout", 5*time.Second)

	v.SetDefault("websocket.max_message_bytes", 4096)
	v.SetDefault("websocket.updates_per_second", 10.0)
	v.SetDefault("websocket.update_burst", 20)
	v.SetDefault("websocket.ping_period", 54*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)

	v.SetDefault("temperature.source", SourceSimulated)
	v.SetDefault("temperature.interval", 30*time.Second)
	v.SetDefault("temperature.fetch_timeout", 10*time.Second)
	v.SetDefault("temperature.fallback", true)
	v.SetDefault("temperature.weather.api_key", "")
	v.SetDefault("temperature.weather.url", "https://api.openweathermap.org/data/2.5/weather")
	v.SetDefault("temperature.weather.latitude", 25.683367718378108)
	v.SetDefault("temperature.weather.longitude", -100.32335820290318)
	v.SetDefault("temperature.modbus.endpoint", "")
	v.SetDefault("temperature.modbus.unit_id", 1)
	v.SetDefault("temperature.modbus.address", 0)
	v.SetDefault("temperature.modbus.register", "input")
	v.SetDefault("temperature.modbus.scale", 0.1)
	v.SetDefault("temperature.modbus.signed", true)
	v.SetDefault("temperature.modbus.timeout", 2*time.Second)
}

// Validate reports the first setting that would keep the server from starting.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if err := c.InitialState().Validate(); err != nil {
		return fmt.Errorf("config: initial machine state: %w", err)
	}
	if c.Machine.Jitter < 0 {
		return errors.New("config: machine.jitter must not be negative")
	}
	if c.Machine.SendTimeout <= 0 {
		return errors.New("config: machine.send_timeout must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return errors.New("config: websocket.max_message_bytes must be positive")
	}
	if c.WebSocket.UpdatesPerSecond <= 0 || c.WebSocket.UpdateBurst <= 0 {
		return errors.New("config: websocket update rate and burst must be positive")
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return errors.New("config: websocket.ping_period must be positive and shorter than pong_wait")
	}
	if c.Temperature.Interval <= 0 {
		return errors.New("config: temperature.interval must be positive")
	}

	switch c.Temperature.Source {
	case SourceWeather, SourceSimulated:
	case SourceModbus:
		if c.Temperature.Modbus.Endpoint == "" {
			return errors.New("config: temperature.modbus.endpoint is required for the modbus source")
		}
	default:
		return fmt.Errorf("config: unknown temperature.source %q", c.Temperature.Source)
	}
	return nil
}
