package negotiation

// Attribute дополнительный непрозрачный атрибут media линии
type Attribute struct {
	Key   string
	Value string
}

// MediaDescriptor внутреннее описание одной media линии, готовое для
// сериализации внешним SDP кодеком. Дескриптор строится заново на каждом
// цикле согласования и никогда не изменяется после создания.
type MediaDescriptor struct {
	MediaType  MediaType
	Formats    []Format
	Direction  Direction
	Extensions []RTPExtension
	Connector  Connector
	Attributes []Attribute

	// Declined линия отклонена: нулевой порт, INACTIVE, потока нет
	Declined bool
	// Offered линия удаленного offer, на которую отвечает дескриптор.
	// nil для линий собственного offer.
	Offered *RemoteMedia
}

// NewMediaDescriptor собирает дескриптор принятой линии
func NewMediaDescriptor(mediaType MediaType, formats []Format, connector Connector,
	direction Direction, extensions []RTPExtension) MediaDescriptor {
	return MediaDescriptor{
		MediaType:  mediaType,
		Formats:    append([]Format(nil), formats...),
		Direction:  direction,
		Extensions: append([]RTPExtension(nil), extensions...),
		Connector:  connector,
	}
}

// NewDeclinedDescriptor создает отклоняющий дескриптор для линии offered
func NewDeclinedDescriptor(offered RemoteMedia) MediaDescriptor {
	return MediaDescriptor{
		MediaType: offered.Type,
		Formats:   append([]Format(nil), offered.Formats...),
		Direction: DirectionInactive,
		Declined:  true,
		Offered:   &offered,
	}
}

// buildOutgoing собирает дескриптор и при включенной защите добавляет hello hash.
// Ошибка получения hash только логируется: атрибут опускается.
func (s *Session) buildOutgoing(mediaType MediaType, formats []Format, connector Connector,
	direction Direction, extensions []RTPExtension) MediaDescriptor {
	md := NewMediaDescriptor(mediaType, formats, connector, direction, extensions)
	if !s.config.SecurityHashEnabled {
		return md
	}

	control, err := s.securityControl(mediaType)
	if err != nil {
		s.log.Errorf("Не удалось создать security control для %s: %v", mediaType, err)
		return md
	}

	helloHash, err := control.HelloHash()
	if err != nil {
		s.log.Errorf("Не удалось добавить %s в SDP для %s: %v", s.config.SecurityHashAttribute, mediaType, err)
		return md
	}
	if helloHash != "" {
		md.Attributes = append(md.Attributes, Attribute{Key: s.config.SecurityHashAttribute, Value: helloHash})
	}
	return md
}

// securityControl возвращает кешированный control или создает новый.
// Созданный control живет до конца сессии.
func (s *Session) securityControl(mediaType MediaType) (SecurityControl, error) {
	if control, ok := s.securityControls[mediaType]; ok {
		return control, nil
	}
	control, err := s.deps.Security.CreateControl(mediaType)
	if err != nil {
		return nil, err
	}
	s.securityControls[mediaType] = control
	return control, nil
}

// buildAllOutgoing строит дескрипторы для offer по всем типам медиа.
// Тип без устройства или с итоговым направлением INACTIVE пропускается.
func (s *Session) buildAllOutgoing() ([]MediaDescriptor, error) {
	descriptors := make([]MediaDescriptor, 0, len(MediaTypes()))

	for _, mediaType := range MediaTypes() {
		dev, ok := s.deps.Devices.DefaultDevice(mediaType)
		if !ok || dev == nil {
			continue
		}

		direction := dev.Direction().And(s.preferences.DirectionPreference(mediaType))
		if s.onHold {
			direction = direction.And(DirectionSendOnly)
		}
		if direction == DirectionInactive {
			s.log.Debugf("Тип медиа %s неактивен и не попадет в offer", mediaType)
			continue
		}

		connector, err := s.deps.Connectors.Connector(mediaType)
		if err != nil {
			return nil, WrapError(ErrorCodeGeneral, s.id, err,
				"Не удалось получить connector").withMedia(mediaType)
		}

		descriptors = append(descriptors, s.buildOutgoing(mediaType,
			dev.SupportedFormats(), connector, direction, dev.SupportedExtensions()))
	}

	if len(descriptors) == 0 {
		return nil, NewError(ErrorCodeGeneral, s.id,
			"Не найдено ни одного активного аудио/видео устройства, невозможно создать вызов")
	}

	return descriptors, nil
}
