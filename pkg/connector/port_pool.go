package connector

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ErrNoPorts все порты пула заняты
var ErrNoPorts = errors.New("нет доступных портов")

// PortAllocationStrategy стратегия выделения портов
type PortAllocationStrategy int

const (
	// PortAllocationSequential порты выделяются по возрастанию
	PortAllocationSequential PortAllocationStrategy = iota
	// PortAllocationRandom порты выделяются в случайном порядке
	PortAllocationRandom
)

func (s PortAllocationStrategy) String() string {
	switch s {
	case PortAllocationSequential:
		return "sequential"
	case PortAllocationRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ParseStrategy разбирает название стратегии
func ParseStrategy(name string) (PortAllocationStrategy, error) {
	switch name {
	case "", "sequential":
		return PortAllocationSequential, nil
	case "random":
		return PortAllocationRandom, nil
	default:
		return 0, fmt.Errorf("неизвестная стратегия выделения портов: %q", name)
	}
}

// PortPool управляет пулом портов для RTP. Выдается четный порт RTP,
// следующий за ним нечетный порт используется для RTCP.
type PortPool struct {
	minPort   uint16
	maxPort   uint16
	step      int
	strategy  PortAllocationStrategy
	allocated map[uint16]bool
	available []uint16
	random    *rand.Rand
	mutex     sync.Mutex
}

// NewPortPool создает пул портов в диапазоне [minPort, maxPort] с шагом step
func NewPortPool(minPort, maxPort uint16, step int, strategy PortAllocationStrategy) (*PortPool, error) {
	if err := ValidatePortRange(minPort, maxPort, step); err != nil {
		return nil, err
	}

	pool := &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		step:      step,
		strategy:  strategy,
		allocated: make(map[uint16]bool),
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for port := int(minPort); port <= int(maxPort); port += step {
		pool.available = append(pool.available, uint16(port))
	}

	if strategy == PortAllocationRandom {
		pool.random.Shuffle(len(pool.available), func(i, j int) {
			pool.available[i], pool.available[j] = pool.available[j], pool.available[i]
		})
	}

	return pool, nil
}

// Allocate выделяет свободный порт
func (p *PortPool) Allocate() (uint16, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.available) == 0 {
		return 0, ErrNoPorts
	}

	idx := 0
	if p.strategy == PortAllocationRandom {
		idx = p.random.Intn(len(p.available))
	}
	port := p.available[idx]
	p.available = append(p.available[:idx], p.available[idx+1:]...)

	p.allocated[port] = true
	return port, nil
}

// Release возвращает порт в пул
func (p *PortPool) Release(port uint16) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if port < p.minPort || port > p.maxPort {
		return fmt.Errorf("порт %d вне диапазона [%d, %d]", port, p.minPort, p.maxPort)
	}
	if !p.allocated[port] {
		return fmt.Errorf("порт %d не был выделен", port)
	}
	delete(p.allocated, port)

	if p.strategy == PortAllocationRandom {
		p.available = append(p.available, port)
		return nil
	}

	// sequential: сохраняем порядок по возрастанию
	for i, candidate := range p.available {
		if candidate > port {
			p.available = append(p.available[:i], append([]uint16{port}, p.available[i:]...)...)
			return nil
		}
	}
	p.available = append(p.available, port)
	return nil
}

// Available возвращает количество свободных портов
func (p *PortPool) Available() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.available)
}

// ValidatePortRange проверяет диапазон портов для RTP:
// порты четные, minPort < maxPort, шаг четный и положительный
func ValidatePortRange(minPort, maxPort uint16, step int) error {
	if minPort >= maxPort {
		return fmt.Errorf("minPort должен быть меньше maxPort")
	}
	if minPort%2 != 0 {
		return fmt.Errorf("minPort должен быть четным")
	}
	if maxPort%2 != 0 {
		return fmt.Errorf("maxPort должен быть четным")
	}
	if step <= 0 || step%2 != 0 {
		return fmt.Errorf("step должен быть положительным и четным")
	}
	return nil
}
