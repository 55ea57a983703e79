package sdp_codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
)

var (
	// ErrMalformed SDP не удалось разобрать
	ErrMalformed = errors.New("некорректный SDP")
	// ErrForeignDescription описание создано другим кодеком
	ErrForeignDescription = errors.New("описание создано другим кодеком")
)

// CodecConfig конфигурация SDP кодека
type CodecConfig struct {
	SessionName string
	// Proto транспортный профиль для собственных offer
	Proto string

	// Payloads и Extensions регистраторы сессии. nil - создаются новые.
	Payloads   *PayloadTypeRegistry
	Extensions *ExtensionRegistry

	LoggerFactory logging.LoggerFactory
	// Clock источник времени для идентификатора сессии в o= строке
	Clock func() time.Time
}

// DefaultCodecConfig возвращает конфигурацию по умолчанию
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		SessionName:   "SoftPhone Call",
		Proto:         "RTP/AVP",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
		Clock:         time.Now,
	}
}

// Codec реализует negotiation.Codec поверх github.com/pion/sdp/v3.
// Экземпляр кодека принадлежит одной сессии: регистраторы payload types
// и extmap хранят соответствия, согласованные в этой сессии.
type Codec struct {
	config     CodecConfig
	payloads   *PayloadTypeRegistry
	extensions *ExtensionRegistry
	log        logging.LeveledLogger
}

// NewCodec создает кодек
func NewCodec(config CodecConfig) *Codec {
	if config.SessionName == "" {
		config.SessionName = "-"
	}
	if config.Proto == "" {
		config.Proto = "RTP/AVP"
	}
	if config.Payloads == nil {
		config.Payloads = NewPayloadTypeRegistry()
	}
	if config.Extensions == nil {
		config.Extensions = NewExtensionRegistry()
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Codec{
		config:     config,
		payloads:   config.Payloads,
		extensions: config.Extensions,
		log:        config.LoggerFactory.NewLogger("sdp_codec"),
	}
}

// Payloads возвращает регистратор payload types
func (c *Codec) Payloads() *PayloadTypeRegistry {
	return c.payloads
}

// Extensions возвращает регистратор RTP header extensions
func (c *Codec) Extensions() *ExtensionRegistry {
	return c.extensions
}

// Description описание сессии, построенное кодеком
type Description struct {
	sd    *sdp.SessionDescription
	media []negotiation.MediaDescriptor
}

// SessionID возвращает идентификатор сессии из o= строки
func (d *Description) SessionID() uint64 {
	return d.sd.Origin.SessionID
}

// SessionVersion возвращает версию сессии из o= строки
func (d *Description) SessionVersion() uint64 {
	return d.sd.Origin.SessionVersion
}

// Media возвращает дескрипторы, из которых построено описание
func (d *Description) Media() []negotiation.MediaDescriptor {
	return append([]negotiation.MediaDescriptor(nil), d.media...)
}

// SDP возвращает описание в представлении pion/sdp
func (d *Description) SDP() *sdp.SessionDescription {
	return d.sd
}

// Render сериализует описание в текст SDP
func (c *Codec) Render(desc negotiation.Description) (string, error) {
	d, ok := desc.(*Description)
	if !ok || d == nil {
		return "", ErrForeignDescription
	}
	raw, err := d.sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("не удалось сериализовать SDP: %w", err)
	}
	return string(raw), nil
}

// BuildFresh строит новое описание сессии
func (c *Codec) BuildFresh(origin negotiation.Origin, media []negotiation.MediaDescriptor) (negotiation.Description, error) {
	sessionID := uint64(c.config.Clock().UnixNano())
	return c.build(origin, sessionID, 1, media)
}

// BuildUpdate строит update предыдущего описания: идентификатор сессии
// сохраняется, версия увеличивается
func (c *Codec) BuildUpdate(previous negotiation.Description, origin negotiation.Origin, media []negotiation.MediaDescriptor) (negotiation.Description, error) {
	prev, ok := previous.(*Description)
	if !ok || prev == nil {
		return nil, ErrForeignDescription
	}

	desc, err := c.build(origin, prev.SessionID(), prev.SessionVersion()+1, media)
	if err != nil {
		return nil, err
	}
	desc.sd.Origin.Username = prev.sd.Origin.Username
	return desc, nil
}

func (c *Codec) build(origin negotiation.Origin, sessionID, version uint64, media []negotiation.MediaDescriptor) (*Description, error) {
	addrType := addressType(origin.Host)

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       origin.UserName,
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: origin.Host,
		},
		SessionName: sdp.SessionName(c.config.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: origin.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{
					StartTime: 0,
					StopTime:  0,
				},
			},
		},
	}

	for i := range media {
		md, err := c.renderMedia(&media[i], origin.Host)
		if err != nil {
			return nil, err
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	return &Description{
		sd:    sd,
		media: append([]negotiation.MediaDescriptor(nil), media...),
	}, nil
}
