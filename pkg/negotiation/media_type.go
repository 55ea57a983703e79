package negotiation

import "strings"

// MediaType определяет тип медиа. Каждый тип является независимой
// линией согласования: в сессии не более одного потока на тип.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
)

// MediaTypes возвращает все известные типы медиа в порядке перечисления.
// Порядок определяет порядок media линий в offer.
func MediaTypes() []MediaType {
	return []MediaType{MediaTypeAudio, MediaTypeVideo}
}

func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// ParseMediaType преобразует значение из m= строки в MediaType.
// Для неизвестных типов возвращает MediaTypeUnknown.
func ParseMediaType(raw string) MediaType {
	switch {
	case strings.EqualFold(raw, MediaTypeAudio.String()):
		return MediaTypeAudio
	case strings.EqualFold(raw, MediaTypeVideo.String()):
		return MediaTypeVideo
	default:
		return MediaTypeUnknown
	}
}
