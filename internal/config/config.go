package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"github.com/spf13/viper"
)

type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Motion   MotionConfig   `mapstructure:"motion"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type DeviceConfig struct {
	Protocol  string          `mapstructure:"protocol"`
	Serial    SerialConfig    `mapstructure:"serial"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type SerialConfig struct {
	Port      string        `mapstructure:"port"`
	Baud      int           `mapstructure:"baud"`
	WriteAck  bool          `mapstructure:"write_ack"`
	ReadSlice time.Duration `mapstructure:"read_slice"`
}

type WebSocketConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Path         string        `mapstructure:"path"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
}

type DispatchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	CorruptRetries int           `mapstructure:"corrupt_retries"`
}

type MotionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Tolerance    int           `mapstructure:"tolerance"`
	SettlePolls  int           `mapstructure:"settle_polls"`
	StepDelay    time.Duration `mapstructure:"step_delay"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	PosesFile    string        `mapstructure:"poses_file"`
}

type FeedbackConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Load reads the YAML file at path and applies ARM_ environment overrides,
// e.g. ARM_DEVICE_SERIAL_PORT. An empty path uses defaults and environment
// only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables mit Prefix ARM_
	v.SetEnvPrefix("ARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.protocol", string(transport.ProtocolSerial))
	v.SetDefault("device.serial.port", "/dev/ttyUSB0")
	v.SetDefault("device.serial.baud", transport.DefaultBaud)
	v.SetDefault("device.serial.write_ack", true)
	v.SetDefault("device.serial.read_slice", "20ms")
	v.SetDefault("device.websocket.host", "")
	v.SetDefault("device.websocket.port", transport.DefaultWSPort)
	v.SetDefault("device.websocket.path", transport.DefaultWSPath)
	v.SetDefault("device.websocket.ping_interval", "30s")
	v.SetDefault("device.websocket.ping_timeout", "10s")

	v.SetDefault("dispatch.timeout", "5s")
	v.SetDefault("dispatch.corrupt_retries", 1)

	v.SetDefault("motion.poll_interval", "100ms")
	v.SetDefault("motion.tolerance", 2)
	v.SetDefault("motion.settle_polls", 5)
	v.SetDefault("motion.step_delay", "500ms")
	v.SetDefault("motion.wait_timeout", "10s")
	v.SetDefault("motion.poses_file", "")

	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.poll_interval", "200ms")

	v.SetDefault("server.http_port", 8090)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.debug", false)
}

func (c *Config) Validate() error {
	if _, err := transport.ParseProtocol(c.Device.Protocol); err != nil {
		return fmt.Errorf("device.protocol: %w", err)
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive, got %v", c.Dispatch.Timeout)
	}
	if c.Dispatch.CorruptRetries < 0 {
		return fmt.Errorf("dispatch.corrupt_retries must not be negative, got %d", c.Dispatch.CorruptRetries)
	}
	if c.Motion.WaitTimeout <= 0 {
		return fmt.Errorf("motion.wait_timeout must be positive, got %v", c.Motion.WaitTimeout)
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	return nil
}

// TransportParams maps the device section onto link parameters.
func (c *Config) TransportParams() transport.Params {
	proto, _ := transport.ParseProtocol(c.Device.Protocol)
	return transport.Params{
		Protocol:     proto,
		Port:         c.Device.Serial.Port,
		Baud:         c.Device.Serial.Baud,
		ReadSlice:    c.Device.Serial.ReadSlice,
		Host:         c.Device.WebSocket.Host,
		WSPort:       c.Device.WebSocket.Port,
		Path:         c.Device.WebSocket.Path,
		PingInterval: c.Device.WebSocket.PingInterval,
		PingTimeout:  c.Device.WebSocket.PingTimeout,
		Timeout:      c.Dispatch.Timeout,
		Debug:        c.Log.Debug,
	}
}

func (c *Config) DispatchConfig() dispatcher.Config {
	return dispatcher.Config{
		Timeout:        c.Dispatch.Timeout,
		CorruptRetries: c.Dispatch.CorruptRetries,
		WriteAck:       c.Device.Serial.WriteAck,
	}
}

func (c *Config) MotionConfig() arm.MotionConfig {
	return arm.MotionConfig{
		PollInterval: c.Motion.PollInterval,
		Tolerance:    c.Motion.Tolerance,
		SettlePolls:  c.Motion.SettlePolls,
		StepDelay:    c.Motion.StepDelay,
	}
}
