// Package session_manager управляет сессиями согласования: по одной сессии
// на плечо вызова, общий пул портов и очистка неактивных сессий.
package session_manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arzzra/sdp_negotiator/pkg/connector"
	"github.com/arzzra/sdp_negotiator/pkg/media_stream"
	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/arzzra/sdp_negotiator/pkg/sdp_codec"
	"github.com/arzzra/sdp_negotiator/pkg/security"
	"github.com/pion/logging"
)

var (
	// ErrSessionExists сессия с таким идентификатором уже создана
	ErrSessionExists = errors.New("сессия уже существует")
	// ErrSessionNotFound сессия не найдена
	ErrSessionNotFound = errors.New("сессия не найдена")
	// ErrManagerClosed менеджер остановлен
	ErrManagerClosed = errors.New("менеджер закрыт")
	// ErrMaxSessions достигнут лимит сессий
	ErrMaxSessions = errors.New("достигнут максимум сессий")
)

// Dependencies общие сервисы для всех сессий менеджера
type Dependencies struct {
	Devices     negotiation.DeviceRegistry
	Preferences negotiation.PreferenceProvider
	// Metrics может быть nil
	Metrics       *negotiation.Metrics
	LoggerFactory logging.LoggerFactory
}

// Statistics статистика менеджера
type Statistics struct {
	ActiveSessions       int
	TotalSessionsCreated int
	SessionTimeouts      int
	AvailablePorts       int
	LastCleanupTime      time.Time
}

// sessionInfo сессия и ресурсы, выделенные для нее
type sessionInfo struct {
	session      *negotiation.Session
	connectors   *connector.Provider
	streams      *media_stream.Manager
	lastActivity time.Time
}

// Manager менеджер сессий согласования
type Manager struct {
	config   *ManagerConfig
	deps     Dependencies
	portPool *connector.PortPool
	sessions map[string]*sessionInfo
	log      logging.LeveledLogger

	mutex  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	statistics struct {
		totalCreated    int
		sessionTimeouts int
		lastCleanupTime time.Time
	}
}

// NewManager создает менеджер сессий
func NewManager(config *ManagerConfig, deps Dependencies) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config не может быть nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация: %w", err)
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("Devices не может быть nil")
	}
	if deps.LoggerFactory == nil {
		deps.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	configCopy := config.Copy()

	portPool, err := connector.NewPortPool(configCopy.MinPort, configCopy.MaxPort,
		configCopy.PortStep, configCopy.PortAllocationStrategy)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул портов: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:   configCopy,
		deps:     deps,
		portPool: portPool,
		sessions: make(map[string]*sessionInfo),
		log:      deps.LoggerFactory.NewLogger("session_manager"),
		ctx:      ctx,
		cancel:   cancel,
	}

	if configCopy.SessionTimeout > 0 {
		m.wg.Add(1)
		go m.cleanupRoutine()
	}

	return m, nil
}

// CreateSession создает сессию согласования со своим кодеком, connector
// provider и менеджером потоков
func (m *Manager) CreateSession(sessionID string) (*negotiation.Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, exists := m.sessions[sessionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	if len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrMaxSessions, m.config.MaxSessions)
	}

	connectors, err := connector.NewProvider(m.config.LocalHost, m.portPool)
	if err != nil {
		return nil, err
	}

	streams := media_stream.NewManager(media_stream.ManagerConfig{
		MTU:           m.config.MTU,
		Bind:          m.config.BindSockets,
		LoggerFactory: m.deps.LoggerFactory,
	})

	codecConfig := sdp_codec.DefaultCodecConfig()
	codecConfig.SessionName = m.config.SessionName
	codecConfig.LoggerFactory = m.deps.LoggerFactory

	deps := negotiation.Dependencies{
		Codec:       sdp_codec.NewCodec(codecConfig),
		Devices:     m.deps.Devices,
		Streams:     streams,
		Connectors:  connectors,
		Preferences: m.deps.Preferences,
	}
	if m.config.SecurityHashEnabled {
		deps.Security = security.NewFactory()
	}

	config := negotiation.DefaultConfig()
	config.SessionID = sessionID
	config.UserName = m.config.UserName
	config.LocalHost = m.config.LocalHost
	config.SecurityHashEnabled = m.config.SecurityHashEnabled
	config.LoggerFactory = m.deps.LoggerFactory
	config.Metrics = m.deps.Metrics

	session, err := negotiation.NewSession(config, deps)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать сессию: %w", err)
	}

	m.sessions[session.ID()] = &sessionInfo{
		session:      session,
		connectors:   connectors,
		streams:      streams,
		lastActivity: time.Now(),
	}
	m.statistics.totalCreated++

	return session, nil
}

// GetSession возвращает сессию и обновляет время ее активности
func (m *Manager) GetSession(sessionID string) (*negotiation.Session, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	info, exists := m.sessions[sessionID]
	if !exists {
		return nil, false
	}
	info.lastActivity = time.Now()
	return info.session, true
}

// Streams возвращает менеджер потоков сессии
func (m *Manager) Streams(sessionID string) (*media_stream.Manager, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	info, exists := m.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return info.streams, true
}

// ReleaseSession закрывает потоки сессии и возвращает ее порты в пул
func (m *Manager) ReleaseSession(sessionID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	info, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	m.release(sessionID, info)
	return nil
}

// release освобождает ресурсы сессии. Вызывается под m.mutex.
func (m *Manager) release(sessionID string, info *sessionInfo) {
	info.session.Close()
	info.streams.Close()
	if err := info.connectors.Release(); err != nil {
		m.log.Errorf("Ошибка при освобождении портов сессии %s: %v", sessionID, err)
	}
	delete(m.sessions, sessionID)
}

// ActiveSessions возвращает идентификаторы активных сессий
func (m *Manager) ActiveSessions() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Statistics возвращает статистику менеджера
func (m *Manager) Statistics() Statistics {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return Statistics{
		ActiveSessions:       len(m.sessions),
		TotalSessionsCreated: m.statistics.totalCreated,
		SessionTimeouts:      m.statistics.sessionTimeouts,
		AvailablePorts:       m.portPool.Available(),
		LastCleanupTime:      m.statistics.lastCleanupTime,
	}
}

// Shutdown закрывает все сессии и останавливает очистку
func (m *Manager) Shutdown() error {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()

	for sessionID, info := range m.sessions {
		m.release(sessionID, info)
	}
	m.mutex.Unlock()

	m.wg.Wait()
	return nil
}

// cleanupRoutine периодически удаляет неактивные сессии
func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupInactiveSessions()
		}
	}
}

// cleanupInactiveSessions удаляет сессии, превысившие таймаут
func (m *Manager) cleanupInactiveSessions() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	m.statistics.lastCleanupTime = now

	expired := 0
	for sessionID, info := range m.sessions {
		if now.Sub(info.lastActivity) <= m.config.SessionTimeout {
			continue
		}
		m.release(sessionID, info)
		m.statistics.sessionTimeouts++
		expired++
	}

	if expired > 0 {
		m.log.Infof("Очищено сессий по таймауту: %d", expired)
	}
}
