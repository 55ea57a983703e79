// Package media_device содержит реестр медиа устройств и пользовательские
// предпочтения направления для сессии согласования.
package media_device

import (
	"fmt"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
)

// Стандартные URI RTP header extensions
const (
	ExtensionAudioLevel  = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	ExtensionTimeOffset  = "urn:ietf:params:rtp-hdrext:toffset"
	ExtensionAbsSendTime = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
)

// Device статически описанное устройство
type Device struct {
	name       string
	mediaType  negotiation.MediaType
	direction  negotiation.Direction
	formats    []negotiation.Format
	extensions []negotiation.RTPExtension
}

// NewDevice создает устройство. Форматы должны относиться к типу медиа устройства.
func NewDevice(name string, mediaType negotiation.MediaType, direction negotiation.Direction,
	formats []negotiation.Format, extensions []negotiation.RTPExtension) (*Device, error) {
	if mediaType == negotiation.MediaTypeUnknown {
		return nil, fmt.Errorf("устройство %q: неизвестный тип медиа", name)
	}
	for _, f := range formats {
		if f.MediaType != mediaType {
			return nil, fmt.Errorf("устройство %q: формат %s не относится к %s", name, f, mediaType)
		}
	}

	return &Device{
		name:       name,
		mediaType:  mediaType,
		direction:  direction,
		formats:    append([]negotiation.Format(nil), formats...),
		extensions: append([]negotiation.RTPExtension(nil), extensions...),
	}, nil
}

// Name возвращает имя устройства
func (d *Device) Name() string {
	return d.name
}

// MediaType возвращает тип медиа устройства
func (d *Device) MediaType() negotiation.MediaType {
	return d.mediaType
}

func (d *Device) Direction() negotiation.Direction {
	return d.direction
}

func (d *Device) SupportedFormats() []negotiation.Format {
	return append([]negotiation.Format(nil), d.formats...)
}

func (d *Device) SupportedExtensions() []negotiation.RTPExtension {
	return append([]negotiation.RTPExtension(nil), d.extensions...)
}

// DefaultAudioFormats форматы аудио по умолчанию в порядке предпочтения
func DefaultAudioFormats() []negotiation.Format {
	return []negotiation.Format{
		negotiation.NewAudioFormat("opus", 48000, 2),
		negotiation.NewAudioFormat("PCMU", 8000, 1),
		negotiation.NewAudioFormat("PCMA", 8000, 1),
		negotiation.NewAudioFormat("G722", 8000, 1),
	}
}

// DefaultVideoFormats форматы видео по умолчанию в порядке предпочтения
func DefaultVideoFormats() []negotiation.Format {
	return []negotiation.Format{
		negotiation.NewVideoFormat("VP8", 90000),
		negotiation.NewVideoFormat("H264", 90000),
		negotiation.NewVideoFormat("VP9", 90000),
	}
}

// DefaultAudioExtensions расширения аудио по умолчанию
func DefaultAudioExtensions() []negotiation.RTPExtension {
	return []negotiation.RTPExtension{
		{URI: ExtensionAudioLevel, Direction: negotiation.DirectionSendRecv},
	}
}

// DefaultVideoExtensions расширения видео по умолчанию
func DefaultVideoExtensions() []negotiation.RTPExtension {
	return []negotiation.RTPExtension{
		{URI: ExtensionTimeOffset, Direction: negotiation.DirectionSendRecv},
		{URI: ExtensionAbsSendTime, Direction: negotiation.DirectionSendRecv},
	}
}

// Registry реестр устройств по умолчанию, реализует negotiation.DeviceRegistry
type Registry struct {
	devices map[negotiation.MediaType]*Device
	mutex   sync.RWMutex
}

// NewRegistry создает реестр с заданными устройствами
func NewRegistry(devices ...*Device) *Registry {
	r := &Registry{devices: make(map[negotiation.MediaType]*Device)}
	for _, d := range devices {
		r.devices[d.mediaType] = d
	}
	return r
}

// SetDefault назначает устройство по умолчанию для его типа медиа
func (r *Registry) SetDefault(device *Device) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.devices[device.mediaType] = device
}

// Remove удаляет устройство типа медиа
func (r *Registry) Remove(mediaType negotiation.MediaType) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.devices, mediaType)
}

func (r *Registry) DefaultDevice(mediaType negotiation.MediaType) (negotiation.Device, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	d, ok := r.devices[mediaType]
	if !ok {
		return nil, false
	}
	return d, true
}

// Preferences пользовательские предпочтения направления по типам медиа.
// Тип без явного значения считается SEND_RECV.
type Preferences struct {
	directions map[negotiation.MediaType]negotiation.Direction
	mutex      sync.RWMutex
}

// NewPreferences создает предпочтения без ограничений
func NewPreferences() *Preferences {
	return &Preferences{directions: make(map[negotiation.MediaType]negotiation.Direction)}
}

// Set задает предпочтение для типа медиа
func (p *Preferences) Set(mediaType negotiation.MediaType, direction negotiation.Direction) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.directions[mediaType] = direction
}

func (p *Preferences) DirectionPreference(mediaType negotiation.MediaType) negotiation.Direction {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if d, ok := p.directions[mediaType]; ok {
		return d
	}
	return negotiation.DirectionSendRecv
}
