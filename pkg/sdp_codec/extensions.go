package sdp_codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
)

const (
	extensionIDMin = 1
	// extensionIDReserved зарезервирован для one-byte header (RFC 5285)
	extensionIDReserved = 15
	extensionIDMax      = 246
)

// ErrNoFreeExtensionID все идентификаторы extmap заняты
var ErrNoFreeExtensionID = errors.New("нет свободных идентификаторов RTP header extension")

// ExtensionRegistry хранит соответствие идентификаторов extmap и URI расширений
// отдельно для каждого типа медиа
type ExtensionRegistry struct {
	tables map[negotiation.MediaType]*extensionTable
	mutex  sync.Mutex
}

type extensionTable struct {
	byID  map[int]string
	byURI map[string]int
}

// NewExtensionRegistry создает пустой регистратор
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{
		tables: make(map[negotiation.MediaType]*extensionTable),
	}
}

// table вызывается под mutex
func (r *ExtensionRegistry) table(mediaType negotiation.MediaType) *extensionTable {
	t, ok := r.tables[mediaType]
	if !ok {
		t = &extensionTable{byID: make(map[int]string), byURI: make(map[string]int)}
		r.tables[mediaType] = t
	}
	return t
}

// Register сохраняет соответствие из удаленного описания.
// Предыдущие соответствия id и uri заменяются.
func (r *ExtensionRegistry) Register(mediaType negotiation.MediaType, id int, uri string) error {
	if id < extensionIDMin || id > extensionIDMax {
		return fmt.Errorf("идентификатор extmap %d вне диапазона [%d, %d]", id, extensionIDMin, extensionIDMax)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	t := r.table(mediaType)
	if oldURI, ok := t.byID[id]; ok {
		delete(t.byURI, oldURI)
	}
	if oldID, ok := t.byURI[uri]; ok {
		delete(t.byID, oldID)
	}
	t.byID[id] = uri
	t.byURI[uri] = id
	return nil
}

// IDFor возвращает идентификатор для URI, выделяя новый при необходимости
func (r *ExtensionRegistry) IDFor(mediaType negotiation.MediaType, uri string) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	t := r.table(mediaType)
	if id, ok := t.byURI[uri]; ok {
		return id, nil
	}

	for id := extensionIDMin; id <= extensionIDMax; id++ {
		if id == extensionIDReserved {
			continue
		}
		if _, used := t.byID[id]; !used {
			t.byID[id] = uri
			t.byURI[uri] = id
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoFreeExtensionID, uri)
}

// URIFor возвращает URI расширения по идентификатору
func (r *ExtensionRegistry) URIFor(mediaType negotiation.MediaType, id int) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	uri, ok := r.table(mediaType).byID[id]
	return uri, ok
}
