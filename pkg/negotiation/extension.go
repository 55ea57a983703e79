package negotiation

// RTPExtension описывает RTP header extension (RFC 5285).
// Единственный ключ идентичности - URI, сравнение строгое и регистрозависимое.
type RTPExtension struct {
	URI       string
	Direction Direction
	// Attributes непрозрачные параметры расширения из extmap
	Attributes string
	// ID идентификатор extmap удаленной стороны, 0 если не задан
	ID int
}

// findExtension ищет расширение по URI
func findExtension(extensions []RTPExtension, uri string) (RTPExtension, bool) {
	for _, ext := range extensions {
		if ext.URI == uri {
			return ext, true
		}
	}
	return RTPExtension{}, false
}

// IntersectExtensions пересекает расширения удаленной стороны с локальными.
//
// Порядок remote сохраняется. Для каждого совпадения по URI направление
// вычисляется как local.Direction.AnswerFor(remote.Direction), атрибуты
// и идентификатор берутся у remote. Расширения, отсутствующие у одной из сторон, отбрасываются.
func IntersectExtensions(remote, local []RTPExtension) []RTPExtension {
	if len(remote) == 0 || len(local) == 0 {
		return []RTPExtension{}
	}

	size := len(remote)
	if len(local) < size {
		size = len(local)
	}
	intersection := make([]RTPExtension, 0, size)

	for _, remoteExt := range remote {
		localExt, ok := findExtension(local, remoteExt.URI)
		if !ok {
			continue
		}
		intersection = append(intersection, RTPExtension{
			URI:        localExt.URI,
			Direction:  localExt.Direction.AnswerFor(remoteExt.Direction),
			Attributes: remoteExt.Attributes,
			ID:         remoteExt.ID,
		})
	}

	return intersection
}
