package connector

import (
	"fmt"
	"net"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
)

// Connector локальная точка RTP/RTCP одного типа медиа
type Connector struct {
	data    *net.UDPAddr
	control *net.UDPAddr
}

// NewConnector создает connector для порта RTP, RTCP на port+1
func NewConnector(ip net.IP, port int) *Connector {
	return &Connector{
		data:    &net.UDPAddr{IP: ip, Port: port},
		control: &net.UDPAddr{IP: ip, Port: port + 1},
	}
}

// DataAddr адрес RTP
func (c *Connector) DataAddr() *net.UDPAddr {
	return c.data
}

// ControlAddr адрес RTCP
func (c *Connector) ControlAddr() *net.UDPAddr {
	return c.control
}

// Provider выдает connector для каждого типа медиа одной сессии.
// Порт выделяется из общего пула при первом запросе и возвращается в Release.
type Provider struct {
	ip         net.IP
	pool       *PortPool
	connectors map[negotiation.MediaType]*Connector
	mutex      sync.Mutex
}

// NewProvider создает provider сессии для локального адреса host
func NewProvider(host string, pool *PortPool) (*Provider, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("некорректный локальный адрес: %q", host)
	}
	if pool == nil {
		return nil, fmt.Errorf("пул портов не может быть nil")
	}

	return &Provider{
		ip:         ip,
		pool:       pool,
		connectors: make(map[negotiation.MediaType]*Connector),
	}, nil
}

// Connector реализует negotiation.ConnectorProvider
func (p *Provider) Connector(mediaType negotiation.MediaType) (negotiation.Connector, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if c, ok := p.connectors[mediaType]; ok {
		return c, nil
	}

	port, err := p.pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("не удалось выделить порт для %s: %w", mediaType, err)
	}

	c := NewConnector(p.ip, int(port))
	p.connectors[mediaType] = c
	return c, nil
}

// Ports возвращает порты RTP, выделенные сессии
func (p *Provider) Ports() map[negotiation.MediaType]int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ports := make(map[negotiation.MediaType]int, len(p.connectors))
	for mediaType, c := range p.connectors {
		ports[mediaType] = c.data.Port
	}
	return ports
}

// Release возвращает все выделенные порты в пул
func (p *Provider) Release() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var firstErr error
	for mediaType, c := range p.connectors {
		if err := p.pool.Release(uint16(c.data.Port)); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.connectors, mediaType)
	}
	return firstErr
}
