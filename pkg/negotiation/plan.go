package negotiation

import "context"

// lineOutcome результат согласования одной media линии.
// Отклонение линии является обычным исходом, а не ошибкой.
type lineOutcome int

const (
	lineAccepted lineOutcome = iota
	lineDeclined
)

// linePlan решение по одной линии удаленного описания
type linePlan struct {
	outcome lineOutcome
	media   RemoteMedia
	reason  string

	// для принятых линий
	params     StreamParams
	advertised []Format
}

// offerAnswerPlan решения по всем линиям в порядке удаленного описания
type offerAnswerPlan []linePlan

func (p offerAnswerPlan) hasAccepted() bool {
	for _, line := range p {
		if line.outcome == lineAccepted {
			return true
		}
	}
	return false
}

func declined(media RemoteMedia, reason string) linePlan {
	return linePlan{outcome: lineDeclined, media: media, reason: reason}
}

// deviceDirection возвращает устройство и его направление с учетом
// пользовательских предпочтений. Без устройства направление INACTIVE.
func (s *Session) deviceDirection(mediaType MediaType) (Device, Direction) {
	dev, ok := s.deps.Devices.DefaultDevice(mediaType)
	if !ok || dev == nil {
		return nil, DirectionInactive
	}
	return dev, dev.Direction().And(s.preferences.DirectionPreference(mediaType))
}

// planOffer вычисляет решения по линиям входящего offer без побочных эффектов
func (s *Session) planOffer(offer *RemoteDescription) (offerAnswerPlan, error) {
	plan := make(offerAnswerPlan, 0, len(offer.Media))
	seen := make(map[MediaType]bool)

	for _, media := range offer.Media {
		dev, devDirection := s.deviceDirection(media.Type)

		switch {
		case len(media.Formats) == 0:
			plan = append(plan, declined(media, "нет поддерживаемых форматов"))
			continue
		case devDirection == DirectionInactive:
			plan = append(plan, declined(media, "устройство неактивно"))
			continue
		case media.Target.DataPort == 0:
			plan = append(plan, declined(media, "нулевой порт"))
			continue
		case seen[media.Type]:
			plan = append(plan, declined(media, "повторная линия того же типа"))
			continue
		}

		localFormats := dev.SupportedFormats()
		primary, ok := SelectPrimaryFormat(media.Formats, localFormats)
		if !ok {
			plan = append(plan, declined(media, "нет общих форматов"))
			continue
		}

		connector, err := s.deps.Connectors.Connector(media.Type)
		if err != nil {
			return nil, WrapError(ErrorCodeGeneral, s.id, err,
				"Не удалось получить connector").withMedia(media.Type)
		}

		direction := devDirection.AnswerFor(media.Direction)
		extensions := IntersectExtensions(media.Extensions, dev.SupportedExtensions())

		seen[media.Type] = true
		plan = append(plan, linePlan{
			outcome: lineAccepted,
			media:   media,
			params: StreamParams{
				MediaType:  media.Type,
				Connector:  connector,
				Device:     dev,
				Format:     primary,
				Target:     media.Target,
				Direction:  direction,
				Extensions: extensions,
			},
			advertised: IntersectFormats(media.Formats, localFormats),
		})
	}

	return plan, nil
}

// planAnswer вычисляет решения по линиям answer.
// В отличие от offer, пустой список форматов в answer является нарушением протокола.
func (s *Session) planAnswer(answer *RemoteDescription) (offerAnswerPlan, error) {
	plan := make(offerAnswerPlan, 0, len(answer.Media))
	seen := make(map[MediaType]bool)

	for _, media := range answer.Media {
		if media.Target.DataPort == 0 {
			plan = append(plan, declined(media, "удаленная сторона отклонила линию"))
			continue
		}
		if seen[media.Type] {
			plan = append(plan, declined(media, "повторная линия того же типа"))
			continue
		}

		if len(media.Formats) == 0 {
			return nil, NewError(ErrorCodeIllegalArgument, s.id,
				"Удаленная сторона прислала некорректный SDP answer: пустой список форматов").withMedia(media.Type)
		}

		dev, devDirection := s.deviceDirection(media.Type)
		if dev == nil {
			plan = append(plan, declined(media, "нет устройства"))
			continue
		}

		primary, ok := SelectPrimaryFormat(media.Formats, dev.SupportedFormats())
		if !ok {
			return nil, NewError(ErrorCodeIllegalArgument, s.id,
				"SDP answer не содержит ни одного предложенного формата").withMedia(media.Type)
		}

		connector, err := s.deps.Connectors.Connector(media.Type)
		if err != nil {
			return nil, WrapError(ErrorCodeGeneral, s.id, err,
				"Не удалось получить connector").withMedia(media.Type)
		}

		seen[media.Type] = true
		plan = append(plan, linePlan{
			outcome: lineAccepted,
			media:   media,
			params: StreamParams{
				MediaType:  media.Type,
				Connector:  connector,
				Device:     dev,
				Format:     primary,
				Target:     media.Target,
				Direction:  devDirection.AnswerFor(media.Direction),
				Extensions: IntersectExtensions(media.Extensions, dev.SupportedExtensions()),
			},
		})
	}

	return plan, nil
}

// answerDescriptors строит дескрипторы answer в порядке линий offer
func (s *Session) answerDescriptors(plan offerAnswerPlan) []MediaDescriptor {
	descriptors := make([]MediaDescriptor, 0, len(plan))
	for _, line := range plan {
		if line.outcome == lineDeclined {
			s.log.Infof("Сессия %s: линия %s отклонена: %s", s.id, line.media.Type, line.reason)
			descriptors = append(descriptors, NewDeclinedDescriptor(line.media))
			continue
		}

		md := s.buildOutgoing(line.params.MediaType, line.advertised, line.params.Connector,
			line.params.Direction, line.params.Extensions)
		offered := line.media
		md.Offered = &offered
		descriptors = append(descriptors, md)
	}
	return descriptors
}

// appliedChange изменение потока, которое можно откатить
type appliedChange struct {
	mediaType MediaType
	previous  activeStream
	existed   bool
}

// applyPlan применяет план к потокам: сначала создание и замена потоков,
// затем закрытие отклоненных. Поток типа медиа, принятого другой линией
// плана, не закрывается. При ошибке создания уже примененные линии
// откатываются, и состояние потоков остается прежним.
func (s *Session) applyPlan(ctx context.Context, plan offerAnswerPlan) error {
	before := len(s.streams)
	defer func() {
		s.metrics.addStreams(len(s.streams) - before)
	}()

	applied := make([]appliedChange, 0, len(plan))
	accepted := make(map[MediaType]bool)
	for _, line := range plan {
		if line.outcome != lineAccepted {
			continue
		}
		accepted[line.params.MediaType] = true

		mediaType := line.params.MediaType
		previous, existed := s.streams[mediaType]

		handle, err := s.deps.Streams.OpenOrReplaceStream(ctx, line.params)
		if err != nil {
			s.rollback(ctx, applied)
			return WrapError(ErrorCodeGeneral, s.id, err,
				"Не удалось создать поток").withMedia(mediaType)
		}

		s.log.Debugf("Сессия %s: поток %s %s (%s)", s.id, mediaType, line.params.Direction, line.params.Format)
		applied = append(applied, appliedChange{mediaType: mediaType, previous: previous, existed: existed})
		s.streams[mediaType] = activeStream{handle: handle, params: line.params}
	}

	for _, line := range plan {
		if line.outcome == lineDeclined && !accepted[line.media.Type] {
			s.closeStream(line.media.Type)
		}
	}

	return nil
}

// rollback восстанавливает потоки, измененные до ошибки, в обратном порядке
func (s *Session) rollback(ctx context.Context, applied []appliedChange) {
	for i := len(applied) - 1; i >= 0; i-- {
		change := applied[i]
		if !change.existed {
			s.deps.Streams.CloseStream(change.mediaType)
			delete(s.streams, change.mediaType)
			continue
		}

		handle, err := s.deps.Streams.OpenOrReplaceStream(ctx, change.previous.params)
		if err != nil {
			s.log.Warnf("Сессия %s: не удалось восстановить поток %s: %v", s.id, change.mediaType, err)
			s.deps.Streams.CloseStream(change.mediaType)
			delete(s.streams, change.mediaType)
			continue
		}
		s.streams[change.mediaType] = activeStream{handle: handle, params: change.previous.params}
	}
	if len(applied) > 0 {
		s.log.Warnf("Сессия %s: откат %d потоков", s.id, len(applied))
	}
}

// closeStream закрывает поток типа медиа, если он существует
func (s *Session) closeStream(mediaType MediaType) {
	s.deps.Streams.CloseStream(mediaType)
	if _, ok := s.streams[mediaType]; ok {
		delete(s.streams, mediaType)
		s.log.Debugf("Сессия %s: поток %s закрыт", s.id, mediaType)
	}
}
