package media_stream

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

var (
	// ErrUnsupportedFormat для формата нет RTP payloader
	ErrUnsupportedFormat = errors.New("неподдерживаемый формат")
	// ErrSendNotAllowed направление потока не разрешает отправку
	ErrSendNotAllowed = errors.New("отправка запрещена направлением потока")
	// ErrStreamClosed поток закрыт или заменен
	ErrStreamClosed = errors.New("поток закрыт")
	// ErrNotBound поток создан без сокета
	ErrNotBound = errors.New("поток не привязан к сокету")
)

// payloaderFor возвращает RTP payloader для кодировки формата
func payloaderFor(format negotiation.Format) (rtp.Payloader, error) {
	switch strings.ToUpper(format.Encoding) {
	case "PCMU", "PCMA":
		return &codecs.G711Payloader{}, nil
	case "G722":
		return &codecs.G722Payloader{}, nil
	case "OPUS":
		return &codecs.OpusPayloader{}, nil
	case "VP8":
		return &codecs.VP8Payloader{}, nil
	case "VP9":
		return &codecs.VP9Payloader{}, nil
	case "H264":
		return &codecs.H264Payloader{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Stream медиа поток одного типа медиа.
// Отправка выполняется через packetizer основного формата.
type Stream struct {
	id         string
	params     negotiation.StreamParams
	ssrc       uint32
	packetizer rtp.Packetizer
	remote     *net.UDPAddr
	conn       *net.UDPConn

	mutex  sync.Mutex
	closed bool
}

func newStream(params negotiation.StreamParams, mtu uint16, remote *net.UDPAddr, conn *net.UDPConn) (*Stream, error) {
	payloader, err := payloaderFor(params.Format)
	if err != nil {
		return nil, err
	}
	if params.Format.PayloadType < 0 || params.Format.PayloadType > 127 {
		return nil, fmt.Errorf("некорректный payload type %d для %s", params.Format.PayloadType, params.Format)
	}

	id := uuid.New()
	ssrc := id.ID()
	if ssrc == 0 {
		ssrc = 1
	}

	return &Stream{
		id:     id.String(),
		params: params,
		ssrc:   ssrc,
		packetizer: rtp.NewPacketizer(
			mtu,
			uint8(params.Format.PayloadType),
			ssrc,
			payloader,
			rtp.NewRandomSequencer(),
			params.Format.ClockRate,
		),
		remote: remote,
		conn:   conn,
	}, nil
}

// ID возвращает уникальный идентификатор потока
func (s *Stream) ID() string {
	return s.id
}

// MediaType реализует negotiation.StreamHandle
func (s *Stream) MediaType() negotiation.MediaType {
	return s.params.MediaType
}

// Params возвращает параметры, с которыми создан поток
func (s *Stream) Params() negotiation.StreamParams {
	return s.params
}

// SSRC возвращает SSRC исходящих пакетов
func (s *Stream) SSRC() uint32 {
	return s.ssrc
}

// RemoteAddr адрес RTP удаленной стороны
func (s *Stream) RemoteAddr() *net.UDPAddr {
	return s.remote
}

// IsClosed проверяет, закрыт ли поток
func (s *Stream) IsClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// Packetize разбивает кадр на RTP пакеты основного формата
func (s *Stream) Packetize(payload []byte, samples uint32) ([]*rtp.Packet, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if !s.params.Direction.CanSend() {
		return nil, ErrSendNotAllowed
	}
	return s.packetizer.Packetize(payload, samples), nil
}

// WriteSample пакетизирует кадр и отправляет пакеты удаленной стороне
func (s *Stream) WriteSample(payload []byte, samples uint32) error {
	packets, err := s.Packetize(payload, samples)
	if err != nil {
		return err
	}
	if s.conn == nil {
		return ErrNotBound
	}

	for _, packet := range packets {
		raw, err := packet.Marshal()
		if err != nil {
			return fmt.Errorf("не удалось сериализовать RTP пакет: %w", err)
		}
		if _, err := s.conn.WriteToUDP(raw, s.remote); err != nil {
			return fmt.Errorf("не удалось отправить RTP пакет: %w", err)
		}
	}
	return nil
}

// stop помечает поток закрытым. Сокет закрывается, если он не передан
// новому потоку.
func (s *Stream) stop(closeConn bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if closeConn && s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
