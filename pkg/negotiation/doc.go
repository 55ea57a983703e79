// Package negotiation реализует движок согласования медиа по модели offer/answer (RFC 3264).
//
// Для каждого типа медиа (audio, video) сессия решает, существует ли поток,
// в каком направлении он работает, какой кодек используется и какие RTP header
// extensions активны, после чего создает, заменяет или закрывает потоки через
// внешний StreamLifecycle.
//
// Основные компоненты:
//   - Direction.And и Direction.AnswerFor - алгебра направлений
//   - FindMatch, IntersectFormats - сопоставление форматов
//   - IntersectExtensions - пересечение RTP header extensions по URI
//   - MediaDescriptor - описание media линии для SDP кодека
//   - Session - автомат состояний offer/answer
//
// Разбор и сериализация SDP, транспорт, устройства и обмен ключами
// предоставляются внешними сервисами через интерфейсы из interfaces.go.
//
// Пример использования:
//
//	session, err := negotiation.NewSession(cfg, negotiation.Dependencies{
//		Codec:      sdp_codec.NewCodec(sdp_codec.DefaultCodecConfig()),
//		Devices:    registry,
//		Streams:    streams,
//		Connectors: connectors,
//	})
//	if err != nil {
//		return err
//	}
//
//	offer, err := session.CreateOffer(ctx)
//	// ... отправка offer, получение answer
//	err = session.ProcessAnswer(ctx, answer)
package negotiation
