// Package config загружает конфигурацию из файла (YAML, JSON, TOML) и
// переменных окружения SDPNEG_* и собирает из нее компоненты согласования.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arzzra/sdp_negotiator/pkg/connector"
	"github.com/arzzra/sdp_negotiator/pkg/media_device"
	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/arzzra/sdp_negotiator/pkg/session_manager"
	"github.com/go-playground/validator/v10"
	"github.com/pion/logging"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "SDPNEG"

// AccountConfig данные o= строки
type AccountConfig struct {
	UserName    string `mapstructure:"user_name" validate:"required"`
	Host        string `mapstructure:"host" validate:"required,ip"`
	SessionName string `mapstructure:"session_name"`
}

// NetworkConfig пул портов и ограничения сессий
type NetworkConfig struct {
	MinPort         uint16        `mapstructure:"min_port" validate:"required"`
	MaxPort         uint16        `mapstructure:"max_port" validate:"required,gtfield=MinPort"`
	PortStep        int           `mapstructure:"port_step" validate:"required,gt=0"`
	Strategy        string        `mapstructure:"strategy" validate:"oneof=sequential random"`
	MaxSessions     int           `mapstructure:"max_sessions" validate:"required,gt=0"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	BindSockets     bool          `mapstructure:"bind_sockets"`
	MTU             uint16        `mapstructure:"mtu"`
}

// SecurityConfig настройки hello hash
type SecurityConfig struct {
	HashEnabled bool `mapstructure:"hash_enabled"`
}

// FormatConfig формат устройства
type FormatConfig struct {
	Encoding  string `mapstructure:"encoding" validate:"required"`
	ClockRate uint32 `mapstructure:"clock_rate" validate:"required,gt=0"`
	Channels  int    `mapstructure:"channels"`
	Params    string `mapstructure:"params"`
}

// ExtensionConfig RTP header extension устройства
type ExtensionConfig struct {
	URI       string `mapstructure:"uri" validate:"required"`
	Direction string `mapstructure:"direction" validate:"omitempty,oneof=sendrecv sendonly recvonly inactive"`
}

// DeviceConfig устройство по умолчанию для типа медиа
type DeviceConfig struct {
	Name       string            `mapstructure:"name"`
	Direction  string            `mapstructure:"direction" validate:"oneof=sendrecv sendonly recvonly inactive"`
	Formats    []FormatConfig    `mapstructure:"formats" validate:"dive"`
	Extensions []ExtensionConfig `mapstructure:"extensions" validate:"dive"`
}

// File конфигурация приложения
type File struct {
	Account  AccountConfig  `mapstructure:"account"`
	Network  NetworkConfig  `mapstructure:"network"`
	Security SecurityConfig `mapstructure:"security"`
	// Devices ключ - тип медиа (audio, video)
	Devices map[string]DeviceConfig `mapstructure:"devices" validate:"dive"`
	// Preferences ключ - тип медиа, значение - направление
	Preferences map[string]string `mapstructure:"preferences" validate:"dive,oneof=sendrecv sendonly recvonly inactive"`
	LogLevel    string            `mapstructure:"log_level" validate:"oneof=disabled error warn info debug trace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("account.user_name", "-")
	v.SetDefault("account.host", "127.0.0.1")
	v.SetDefault("account.session_name", "SoftPhone Call")

	v.SetDefault("network.min_port", 10000)
	v.SetDefault("network.max_port", 20000)
	v.SetDefault("network.port_step", 2)
	v.SetDefault("network.strategy", "sequential")
	v.SetDefault("network.max_sessions", 100)
	v.SetDefault("network.session_timeout", "5m")
	v.SetDefault("network.cleanup_interval", "1m")
	v.SetDefault("network.bind_sockets", false)
	v.SetDefault("network.mtu", 1200)

	v.SetDefault("security.hash_enabled", false)
	v.SetDefault("log_level", "info")
}

// Load читает конфигурацию. Пустой path означает только значения по
// умолчанию и переменные окружения.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("не удалось прочитать конфигурацию %s: %w", path, err)
		}
	}

	var file File
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("не удалось разобрать конфигурацию: %w", err)
	}
	if len(file.Devices) == 0 {
		file.Devices = defaultDevices()
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate проверяет конфигурацию
func (f *File) Validate() error {
	if err := validator.New().Struct(f); err != nil {
		return fmt.Errorf("невалидная конфигурация: %w", err)
	}
	if err := connector.ValidatePortRange(f.Network.MinPort, f.Network.MaxPort, f.Network.PortStep); err != nil {
		return fmt.Errorf("невалидная конфигурация: %w", err)
	}
	for name := range f.Devices {
		if negotiation.ParseMediaType(name) == negotiation.MediaTypeUnknown {
			return fmt.Errorf("невалидная конфигурация: неизвестный тип медиа устройства %q", name)
		}
	}
	for name := range f.Preferences {
		if negotiation.ParseMediaType(name) == negotiation.MediaTypeUnknown {
			return fmt.Errorf("невалидная конфигурация: неизвестный тип медиа предпочтения %q", name)
		}
	}
	return nil
}

func defaultDevices() map[string]DeviceConfig {
	toConfig := func(formats []negotiation.Format) []FormatConfig {
		result := make([]FormatConfig, 0, len(formats))
		for _, f := range formats {
			result = append(result, FormatConfig{Encoding: f.Encoding, ClockRate: f.ClockRate, Channels: f.Channels})
		}
		return result
	}
	extensions := func(exts []negotiation.RTPExtension) []ExtensionConfig {
		result := make([]ExtensionConfig, 0, len(exts))
		for _, e := range exts {
			result = append(result, ExtensionConfig{URI: e.URI, Direction: e.Direction.String()})
		}
		return result
	}

	return map[string]DeviceConfig{
		"audio": {
			Name:       "default-audio",
			Direction:  "sendrecv",
			Formats:    toConfig(media_device.DefaultAudioFormats()),
			Extensions: extensions(media_device.DefaultAudioExtensions()),
		},
		"video": {
			Name:       "default-video",
			Direction:  "sendrecv",
			Formats:    toConfig(media_device.DefaultVideoFormats()),
			Extensions: extensions(media_device.DefaultVideoExtensions()),
		},
	}
}

// ManagerConfig собирает конфигурацию менеджера сессий
func (f *File) ManagerConfig() (*session_manager.ManagerConfig, error) {
	strategy, err := connector.ParseStrategy(f.Network.Strategy)
	if err != nil {
		return nil, err
	}

	config := session_manager.DefaultConfig()
	config.LocalHost = f.Account.Host
	config.UserName = f.Account.UserName
	if f.Account.SessionName != "" {
		config.SessionName = f.Account.SessionName
	}
	config.MinPort = f.Network.MinPort
	config.MaxPort = f.Network.MaxPort
	config.PortStep = f.Network.PortStep
	config.PortAllocationStrategy = strategy
	config.MaxSessions = f.Network.MaxSessions
	config.SessionTimeout = f.Network.SessionTimeout
	config.CleanupInterval = f.Network.CleanupInterval
	config.BindSockets = f.Network.BindSockets
	config.MTU = f.Network.MTU
	config.SecurityHashEnabled = f.Security.HashEnabled

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DeviceRegistry собирает реестр устройств
func (f *File) DeviceRegistry() (*media_device.Registry, error) {
	registry := media_device.NewRegistry()

	for name, dc := range f.Devices {
		mediaType := negotiation.ParseMediaType(name)
		direction, ok := negotiation.ParseDirection(dc.Direction)
		if !ok {
			return nil, fmt.Errorf("устройство %s: некорректное направление %q", name, dc.Direction)
		}

		formats := make([]negotiation.Format, 0, len(dc.Formats))
		for _, fc := range dc.Formats {
			formats = append(formats, fc.format(mediaType))
		}

		extensions := make([]negotiation.RTPExtension, 0, len(dc.Extensions))
		for _, ec := range dc.Extensions {
			extDirection := negotiation.DirectionSendRecv
			if ec.Direction != "" {
				extDirection, _ = negotiation.ParseDirection(ec.Direction)
			}
			extensions = append(extensions, negotiation.RTPExtension{URI: ec.URI, Direction: extDirection})
		}

		deviceName := dc.Name
		if deviceName == "" {
			deviceName = name
		}
		device, err := media_device.NewDevice(deviceName, mediaType, direction, formats, extensions)
		if err != nil {
			return nil, err
		}
		registry.SetDefault(device)
	}

	return registry, nil
}

func (fc FormatConfig) format(mediaType negotiation.MediaType) negotiation.Format {
	var format negotiation.Format
	if mediaType == negotiation.MediaTypeAudio {
		channels := fc.Channels
		if channels == 0 {
			channels = 1
		}
		format = negotiation.NewAudioFormat(fc.Encoding, fc.ClockRate, channels)
	} else {
		format = negotiation.NewVideoFormat(fc.Encoding, fc.ClockRate)
	}
	format.Params = fc.Params
	return format
}

// BuildPreferences собирает пользовательские предпочтения направления
func (f *File) BuildPreferences() *media_device.Preferences {
	prefs := media_device.NewPreferences()
	for name, raw := range f.Preferences {
		if direction, ok := negotiation.ParseDirection(raw); ok {
			prefs.Set(negotiation.ParseMediaType(name), direction)
		}
	}
	return prefs
}

// LoggerFactory создает фабрику логгеров с уровнем из конфигурации
func (f *File) LoggerFactory(w io.Writer) logging.LoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	factory.Writer = w
	factory.DefaultLogLevel = parseLogLevel(f.LogLevel)
	return factory
}

func parseLogLevel(level string) logging.LogLevel {
	switch strings.ToLower(level) {
	case "disabled":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "warn":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}
