package negotiation

import (
	"context"
	"net"
	"net/url"
	"strconv"
)

// Device локальное медиа устройство, доступное для звонка
type Device interface {
	// Direction возможности устройства: захват (send) и/или воспроизведение (recv)
	Direction() Direction
	// SupportedFormats форматы в порядке локального предпочтения
	SupportedFormats() []Format
	// SupportedExtensions поддерживаемые RTP header extensions
	SupportedExtensions() []RTPExtension
}

// DeviceRegistry предоставляет устройства по умолчанию
type DeviceRegistry interface {
	// DefaultDevice возвращает устройство для типа медиа или false
	DefaultDevice(mediaType MediaType) (Device, bool)
}

// PreferenceProvider предоставляет пользовательские предпочтения направления
type PreferenceProvider interface {
	DirectionPreference(mediaType MediaType) Direction
}

// Connector локальная сетевая точка для RTP/RTCP одного типа медиа
type Connector interface {
	DataAddr() *net.UDPAddr
	ControlAddr() *net.UDPAddr
}

// ConnectorProvider выдает connector для типа медиа.
// Повторные вызовы для одного типа возвращают тот же connector.
type ConnectorProvider interface {
	Connector(mediaType MediaType) (Connector, error)
}

// Target адрес удаленной стороны для потока
type Target struct {
	Host        string
	DataPort    int
	ControlPort int
}

// DataAddr возвращает host:port для RTP
func (t Target) DataAddr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.DataPort))
}

// ControlAddr возвращает host:port для RTCP
func (t Target) ControlAddr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.ControlPort))
}

// StreamParams параметры создания потока
type StreamParams struct {
	MediaType  MediaType
	Connector  Connector
	Device     Device
	Format     Format
	Target     Target
	Direction  Direction
	Extensions []RTPExtension
}

// StreamHandle ссылка на поток, принадлежащий медиа слою
type StreamHandle interface {
	MediaType() MediaType
}

// StreamLifecycle управляет потоками медиа слоя.
//
// OpenOrReplaceStream либо полностью заменяет поток данного типа, либо
// возвращает ошибку и оставляет предыдущий поток без изменений.
// CloseStream идемпотентен.
type StreamLifecycle interface {
	OpenOrReplaceStream(ctx context.Context, params StreamParams) (StreamHandle, error)
	CloseStream(mediaType MediaType)
}

// SecurityControl управляет обменом ключами для одного типа медиа
type SecurityControl interface {
	// HelloHash возвращает hello hash; пустая строка означает отсутствие
	HelloHash() (string, error)
}

// SecurityControlFactory создает security control для типа медиа
type SecurityControlFactory interface {
	CreateControl(mediaType MediaType) (SecurityControl, error)
}

// Origin данные для o= строки нового описания
type Origin struct {
	UserName string
	Host     string
}

// Description сформированное описание сессии. Принадлежит кодеку,
// сессия использует его только для хранения и построения update.
type Description interface {
	SessionID() uint64
	SessionVersion() uint64
	Media() []MediaDescriptor
}

// RemoteMedia одна media линия удаленного описания, извлеченная кодеком
type RemoteMedia struct {
	Type MediaType
	// Formats распознанные форматы в порядке предпочтения удаленной стороны
	Formats    []Format
	Direction  Direction
	Target     Target
	Extensions []RTPExtension

	// Proto и RawFormats значения m= строки, нужны для отклоняющего ответа
	Proto      string
	RawFormats []string
	RawMedia   string
}

// RemoteDescription разобранное описание удаленной стороны
type RemoteDescription struct {
	SessionID      uint64
	SessionVersion uint64
	CallInfo       *url.URL
	Media          []RemoteMedia
}

// Codec внешний SDP кодек
type Codec interface {
	Parse(text string) (*RemoteDescription, error)
	Render(desc Description) (string, error)
	BuildFresh(origin Origin, media []MediaDescriptor) (Description, error)
	BuildUpdate(previous Description, origin Origin, media []MediaDescriptor) (Description, error)
	// Commit сохраняет соответствия payload types и extmap удаленного описания.
	// Вызывается только после того, как описание полностью применено.
	Commit(remote *RemoteDescription)
}
