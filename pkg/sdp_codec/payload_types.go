package sdp_codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
)

const (
	dynamicPayloadTypeMin = 96
	dynamicPayloadTypeMax = 127
)

// ErrNoFreePayloadType все динамические payload types заняты
var ErrNoFreePayloadType = errors.New("нет свободных динамических payload types")

// staticPayloadTypes статические payload types по RFC 3551
var staticPayloadTypes = map[uint8]negotiation.Format{
	0:  staticAudio("PCMU", 8000, 1),
	3:  staticAudio("GSM", 8000, 1),
	4:  staticAudio("G723", 8000, 1),
	5:  staticAudio("DVI4", 8000, 1),
	6:  staticAudio("DVI4", 16000, 1),
	7:  staticAudio("LPC", 8000, 1),
	8:  staticAudio("PCMA", 8000, 1),
	9:  staticAudio("G722", 8000, 1),
	10: staticAudio("L16", 44100, 2),
	11: staticAudio("L16", 44100, 1),
	12: staticAudio("QCELP", 8000, 1),
	13: staticAudio("CN", 8000, 1),
	14: staticAudio("MPA", 90000, negotiation.ChannelsNotSpecified),
	15: staticAudio("G728", 8000, 1),
	16: staticAudio("DVI4", 11025, 1),
	17: staticAudio("DVI4", 22050, 1),
	18: staticAudio("G729", 8000, 1),
	25: staticVideo("CelB", 90000),
	26: staticVideo("JPEG", 90000),
	28: staticVideo("nv", 90000),
	31: staticVideo("H261", 90000),
	32: staticVideo("MPV", 90000),
	33: staticVideo("MP2T", 90000),
	34: staticVideo("H263", 90000),
}

// staticOrder номера статической таблицы по возрастанию
var staticOrder = func() []uint8 {
	pts := make([]uint8, 0, len(staticPayloadTypes))
	for pt := range staticPayloadTypes {
		pts = append(pts, pt)
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i] < pts[j] })
	return pts
}()

func staticAudio(encoding string, clockRate uint32, channels int) negotiation.Format {
	return negotiation.NewAudioFormat(encoding, clockRate, channels)
}

func staticVideo(encoding string, clockRate uint32) negotiation.Format {
	return negotiation.NewVideoFormat(encoding, clockRate)
}

// StaticFormat возвращает формат статического payload type
func StaticFormat(pt uint8) (negotiation.Format, bool) {
	f, ok := staticPayloadTypes[pt]
	if !ok {
		return negotiation.Format{}, false
	}
	return f.WithPayloadType(int(pt)), true
}

// isDynamic проверяет принадлежность payload type динамическому диапазону
func isDynamic(pt int) bool {
	return pt >= dynamicPayloadTypeMin && pt <= dynamicPayloadTypeMax
}

// PayloadTypeRegistry хранит соответствие динамических payload types форматам.
// Номера payload types действуют в пределах media линии, поэтому соответствия
// хранятся отдельно для каждого типа медиа.
type PayloadTypeRegistry struct {
	dynamic map[negotiation.MediaType]map[uint8]negotiation.Format
	mutex   sync.Mutex
}

// NewPayloadTypeRegistry создает пустой регистратор
func NewPayloadTypeRegistry() *PayloadTypeRegistry {
	return &PayloadTypeRegistry{
		dynamic: make(map[negotiation.MediaType]map[uint8]negotiation.Format),
	}
}

// table возвращает соответствия типа медиа, создавая таблицу при необходимости.
// Вызывается под mutex.
func (r *PayloadTypeRegistry) table(mediaType negotiation.MediaType) map[uint8]negotiation.Format {
	t, ok := r.dynamic[mediaType]
	if !ok {
		t = make(map[uint8]negotiation.Format)
		r.dynamic[mediaType] = t
	}
	return t
}

// Register сохраняет соответствие payload type формату в таблице его типа медиа.
// Прежние номера того же формата заменяются. Номера вне динамического
// диапазона не регистрируются.
func (r *PayloadTypeRegistry) Register(pt uint8, format negotiation.Format) error {
	if !isDynamic(int(pt)) {
		return fmt.Errorf("payload type %d вне динамического диапазона", pt)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	t := r.table(format.MediaType)
	for other, registered := range t {
		if other != pt && registered.Matches(format) {
			delete(t, other)
		}
	}
	t[pt] = format.WithPayloadType(int(pt))
	return nil
}

// Lookup возвращает формат для payload type: сначала динамические
// соответствия типа медиа, затем статическая таблица
func (r *PayloadTypeRegistry) Lookup(pt uint8, mediaType negotiation.MediaType) (negotiation.Format, bool) {
	r.mutex.Lock()
	f, ok := r.dynamic[mediaType][pt]
	r.mutex.Unlock()

	if !ok {
		f, ok = StaticFormat(pt)
	}
	if !ok || f.MediaType != mediaType {
		return negotiation.Format{}, false
	}
	return f, true
}

// PayloadTypeFor возвращает payload type для формата.
//
// Порядок выбора: зарегистрированное динамическое соответствие, собственный
// payload type формата, статическая таблица, следующий свободный динамический номер.
func (r *PayloadTypeRegistry) PayloadTypeFor(format negotiation.Format) (uint8, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	t := r.table(format.MediaType)
	for _, pt := range sortedPayloadTypes(t) {
		if t[pt].Matches(format) {
			return pt, nil
		}
	}

	if format.PayloadType >= 0 && format.PayloadType <= dynamicPayloadTypeMax {
		pt := uint8(format.PayloadType)
		if !isDynamic(format.PayloadType) {
			return pt, nil
		}
		if _, used := t[pt]; !used {
			t[pt] = format
			return pt, nil
		}
	}

	for _, pt := range staticOrder {
		if staticPayloadTypes[pt].Matches(format) {
			return pt, nil
		}
	}

	for pt := dynamicPayloadTypeMin; pt <= dynamicPayloadTypeMax; pt++ {
		if _, used := t[uint8(pt)]; !used {
			t[uint8(pt)] = format.WithPayloadType(pt)
			return uint8(pt), nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrNoFreePayloadType, format)
}

// sortedPayloadTypes возвращает номера таблицы по возрастанию
func sortedPayloadTypes(t map[uint8]negotiation.Format) []uint8 {
	pts := make([]uint8, 0, len(t))
	for pt := range t {
		pts = append(pts, pt)
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i] < pts[j] })
	return pts
}
