package session_manager

import (
	"fmt"
	"time"

	"github.com/arzzra/sdp_negotiator/pkg/connector"
)

// ManagerConfig конфигурация менеджера сессий
type ManagerConfig struct {
	// Сетевые настройки
	LocalHost string // Локальный IP адрес для o=, c= и connector
	MinPort   uint16 // Минимальный порт RTP (четный)
	MaxPort   uint16 // Максимальный порт RTP (четный)
	PortStep  int    // Шаг выделения портов, 2 для пары RTP/RTCP

	PortAllocationStrategy connector.PortAllocationStrategy

	// SDP
	UserName    string
	SessionName string

	// Ограничения и очистка
	MaxSessions     int
	SessionTimeout  time.Duration // 0 отключает очистку
	CleanupInterval time.Duration

	SecurityHashEnabled bool

	// Потоки
	BindSockets bool
	MTU         uint16
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *ManagerConfig {
	return &ManagerConfig{
		LocalHost:              "127.0.0.1",
		MinPort:                10000,
		MaxPort:                20000,
		PortStep:               2,
		PortAllocationStrategy: connector.PortAllocationSequential,
		UserName:               "-",
		SessionName:            "SoftPhone Call",
		MaxSessions:            100,
		SessionTimeout:         5 * time.Minute,
		CleanupInterval:        1 * time.Minute,
		MTU:                    1200,
	}
}

// Validate проверяет конфигурацию
func (c *ManagerConfig) Validate() error {
	if c.LocalHost == "" {
		return fmt.Errorf("LocalHost не может быть пустым")
	}
	if err := connector.ValidatePortRange(c.MinPort, c.MaxPort, c.PortStep); err != nil {
		return err
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MaxSessions должен быть больше 0")
	}
	if c.SessionTimeout > 0 && c.CleanupInterval <= 0 {
		return fmt.Errorf("CleanupInterval должен быть больше 0 при заданном SessionTimeout")
	}
	return nil
}

// Copy возвращает копию конфигурации
func (c *ManagerConfig) Copy() *ManagerConfig {
	if c == nil {
		return nil
	}
	copied := *c
	return &copied
}
