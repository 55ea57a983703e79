package negotiation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultSecurityHashAttribute имя атрибута для hello hash
const DefaultSecurityHashAttribute = "zrtp-hash"

// Config конфигурация сессии согласования
type Config struct {
	// SessionID идентификатор сессии для логов и ошибок.
	// Если пустой, генерируется UUID.
	SessionID string

	// UserName и LocalHost используются в o= строке
	UserName  string
	LocalHost string

	// SecurityHashEnabled добавляет hello hash в каждую media линию
	SecurityHashEnabled   bool
	SecurityHashAttribute string

	LoggerFactory logging.LoggerFactory
	// Metrics может быть nil
	Metrics *Metrics
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		UserName:              "-",
		LocalHost:             "127.0.0.1",
		SecurityHashAttribute: DefaultSecurityHashAttribute,
		LoggerFactory:         logging.NewDefaultLoggerFactory(),
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.UserName == "" {
		return fmt.Errorf("UserName не может быть пустым")
	}
	if c.LocalHost == "" {
		return fmt.Errorf("LocalHost не может быть пустым")
	}
	if c.SecurityHashEnabled && c.SecurityHashAttribute == "" {
		return fmt.Errorf("SecurityHashAttribute не может быть пустым при включенном SecurityHashEnabled")
	}
	return nil
}

// applyDefaults заполняет необязательные поля
func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.SecurityHashAttribute == "" {
		c.SecurityHashAttribute = DefaultSecurityHashAttribute
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Dependencies внешние сервисы, используемые сессией
type Dependencies struct {
	Codec      Codec
	Devices    DeviceRegistry
	Streams    StreamLifecycle
	Connectors ConnectorProvider

	// Preferences может быть nil: все типы медиа SEND_RECV
	Preferences PreferenceProvider
	// Security обязателен при Config.SecurityHashEnabled
	Security SecurityControlFactory
}

// validate проверяет наличие обязательных зависимостей
func (d *Dependencies) validate(cfg Config) error {
	if d.Codec == nil {
		return fmt.Errorf("Codec не может быть nil")
	}
	if d.Devices == nil {
		return fmt.Errorf("Devices не может быть nil")
	}
	if d.Streams == nil {
		return fmt.Errorf("Streams не может быть nil")
	}
	if d.Connectors == nil {
		return fmt.Errorf("Connectors не может быть nil")
	}
	if cfg.SecurityHashEnabled && d.Security == nil {
		return fmt.Errorf("Security не может быть nil при включенном SecurityHashEnabled")
	}
	return nil
}

type sendRecvPreferences struct{}

func (sendRecvPreferences) DirectionPreference(MediaType) Direction {
	return DirectionSendRecv
}
