// Package media_stream реализует жизненный цикл медиа потоков для сессии
// согласования: создание, атомарную замену и закрытие потоков по типам медиа.
package media_stream

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/pion/logging"
)

// DefaultMTU MTU исходящих RTP пакетов
const DefaultMTU = 1200

// ManagerConfig конфигурация менеджера потоков
type ManagerConfig struct {
	MTU uint16
	// Bind открывает UDP сокет на адресе connector для каждого потока
	Bind          bool
	LoggerFactory logging.LoggerFactory
}

// DefaultManagerConfig возвращает конфигурацию по умолчанию
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MTU:           DefaultMTU,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
}

// Manager хранит потоки одной сессии и реализует negotiation.StreamLifecycle
type Manager struct {
	config  ManagerConfig
	log     logging.LeveledLogger
	streams map[negotiation.MediaType]*Stream
	mutex   sync.Mutex
}

// NewManager создает менеджер потоков
func NewManager(config ManagerConfig) *Manager {
	if config.MTU == 0 {
		config.MTU = DefaultMTU
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Manager{
		config:  config,
		log:     config.LoggerFactory.NewLogger("media_stream"),
		streams: make(map[negotiation.MediaType]*Stream),
	}
}

// OpenOrReplaceStream создает поток или заменяет существующий.
// При ошибке предыдущий поток остается без изменений.
func (m *Manager) OpenOrReplaceStream(ctx context.Context, params negotiation.StreamParams) (negotiation.StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.Connector == nil || params.Connector.DataAddr() == nil {
		return nil, fmt.Errorf("нет connector для потока %s", params.MediaType)
	}

	remote, err := net.ResolveUDPAddr("udp", params.Target.DataAddr())
	if err != nil {
		return nil, fmt.Errorf("некорректный адрес удаленной стороны %s: %w", params.Target.DataAddr(), err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	previous := m.streams[params.MediaType]

	conn, reused, err := m.socketFor(previous, params.Connector.DataAddr())
	if err != nil {
		return nil, err
	}

	stream, err := newStream(params, m.config.MTU, remote, conn)
	if err != nil {
		if conn != nil && !reused {
			conn.Close()
		}
		return nil, err
	}

	if previous != nil {
		if err := previous.stop(!reused); err != nil {
			m.log.Warnf("Ошибка закрытия потока %s: %v", previous.id, err)
		}
		m.log.Debugf("Поток %s заменен на %s (%s, %s)", previous.id, stream.id, params.Format, params.Direction)
	} else {
		m.log.Debugf("Создан поток %s %s (%s, %s)", stream.id, params.MediaType, params.Format, params.Direction)
	}

	m.streams[params.MediaType] = stream
	return stream, nil
}

// socketFor возвращает сокет для нового потока. Сокет предыдущего потока
// на том же адресе передается новому.
func (m *Manager) socketFor(previous *Stream, local *net.UDPAddr) (*net.UDPConn, bool, error) {
	if !m.config.Bind {
		return nil, false, nil
	}

	if previous != nil && previous.conn != nil {
		if addr, ok := previous.conn.LocalAddr().(*net.UDPAddr); ok && addr.Port == local.Port {
			return previous.conn, true, nil
		}
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, false, fmt.Errorf("не удалось открыть сокет %s: %w", local, err)
	}
	return conn, false, nil
}

// CloseStream закрывает поток типа медиа. Повторный вызов ничего не делает.
func (m *Manager) CloseStream(mediaType negotiation.MediaType) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stream, ok := m.streams[mediaType]
	if !ok {
		return
	}
	delete(m.streams, mediaType)

	if err := stream.stop(true); err != nil {
		m.log.Warnf("Ошибка закрытия потока %s: %v", stream.id, err)
	}
	m.log.Debugf("Поток %s %s закрыт", stream.id, mediaType)
}

// Stream возвращает текущий поток типа медиа
func (m *Manager) Stream(mediaType negotiation.MediaType) (*Stream, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.streams[mediaType]
	return s, ok
}

// Count возвращает количество открытых потоков
func (m *Manager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.streams)
}

// Close закрывает все потоки
func (m *Manager) Close() {
	for _, mediaType := range negotiation.MediaTypes() {
		m.CloseStream(mediaType)
	}
}
