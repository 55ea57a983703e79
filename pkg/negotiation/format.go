package negotiation

import "fmt"

const (
	// ChannelsNotSpecified означает, что количество каналов не задано.
	// Такое значение совпадает с любым количеством каналов.
	ChannelsNotSpecified = -1

	// PayloadTypeUnassigned означает, что payload type еще не назначен.
	// Номер будет выделен регистратором динамических payload types.
	PayloadTypeUnassigned = -1
)

// Format описывает экземпляр кодека.
// Идентичность формата определяется типом медиа, именем кодека, частотой
// дискретизации и количеством каналов. PayloadType и Params в сравнении
// не участвуют.
type Format struct {
	MediaType MediaType
	Encoding  string
	ClockRate uint32
	Channels  int

	// PayloadType номер из SDP или PayloadTypeUnassigned
	PayloadType int
	// Params значение fmtp атрибута
	Params string
}

// NewAudioFormat создает аудио формат без назначенного payload type
func NewAudioFormat(encoding string, clockRate uint32, channels int) Format {
	return Format{
		MediaType:   MediaTypeAudio,
		Encoding:    encoding,
		ClockRate:   clockRate,
		Channels:    channels,
		PayloadType: PayloadTypeUnassigned,
	}
}

// NewVideoFormat создает видео формат, количество каналов не задается
func NewVideoFormat(encoding string, clockRate uint32) Format {
	return Format{
		MediaType:   MediaTypeVideo,
		Encoding:    encoding,
		ClockRate:   clockRate,
		Channels:    ChannelsNotSpecified,
		PayloadType: PayloadTypeUnassigned,
	}
}

// WithPayloadType возвращает копию формата с заданным payload type
func (f Format) WithPayloadType(pt int) Format {
	f.PayloadType = pt
	return f
}

func (f Format) String() string {
	if f.Channels == ChannelsNotSpecified {
		return fmt.Sprintf("%s %s/%d", f.MediaType, f.Encoding, f.ClockRate)
	}
	return fmt.Sprintf("%s %s/%d/%d", f.MediaType, f.Encoding, f.ClockRate, f.Channels)
}

// channels возвращает количество каналов с учетом типа медиа:
// для не-аудио форматов количество каналов всегда не задано
func (f Format) channels() int {
	if f.MediaType != MediaTypeAudio {
		return ChannelsNotSpecified
	}
	return f.Channels
}

// Matches проверяет совпадение формата с target.
// Количество каналов игнорируется, если у одной из сторон оно не задано.
func (f Format) Matches(target Format) bool {
	if f.MediaType != target.MediaType ||
		f.Encoding != target.Encoding ||
		f.ClockRate != target.ClockRate {
		return false
	}

	fc, tc := f.channels(), target.channels()
	if fc == ChannelsNotSpecified || tc == ChannelsNotSpecified {
		return true
	}
	return fc == tc
}

// FindMatch возвращает первый формат из candidates, совпадающий с target
func FindMatch(candidates []Format, target Format) (Format, bool) {
	for _, candidate := range candidates {
		if candidate.Matches(target) {
			return candidate, true
		}
	}
	return Format{}, false
}

// IntersectFormats проецирует локальные форматы на список remote.
// Порядок remote сохраняется, в результат попадают локальные экземпляры.
func IntersectFormats(remote, local []Format) []Format {
	result := make([]Format, 0, len(remote))
	for _, remoteFormat := range remote {
		if localFormat, ok := FindMatch(local, remoteFormat); ok {
			result = append(result, localFormat)
		}
	}
	return result
}

// SelectPrimaryFormat возвращает первый формат remote, для которого есть
// локальное соответствие. Возвращается экземпляр remote: его payload type
// используется при создании потока.
func SelectPrimaryFormat(remote, local []Format) (Format, bool) {
	for _, remoteFormat := range remote {
		if _, ok := FindMatch(local, remoteFormat); ok {
			return remoteFormat, true
		}
	}
	return Format{}, false
}
