package negotiation

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/logging"
)

// activeStream поток, созданный сессией, вместе с параметрами создания.
// Параметры нужны для восстановления потока при откате.
type activeStream struct {
	handle StreamHandle
	params StreamParams
}

// Session сессия согласования медиа для одного плеча вызова.
//
// Сессия реализует модель offer/answer (RFC 3264): формирует первый
// и повторные offer, отвечает на входящие offer и применяет answer.
// Все операции, изменяющие состояние, выполняются под одной блокировкой.
type Session struct {
	id          string
	config      Config
	deps        Dependencies
	preferences PreferenceProvider
	log         logging.LeveledLogger
	metrics     *Metrics

	mu      sync.Mutex
	machine *fsm.FSM
	closed  bool

	local            Description
	remote           *RemoteDescription
	securityControls map[MediaType]SecurityControl
	onHold           bool
	callInfo         *url.URL
	streams          map[MediaType]activeStream
}

// NewSession создает сессию согласования
func NewSession(config Config, deps Dependencies) (*Session, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация: %w", err)
	}
	if err := deps.validate(config); err != nil {
		return nil, fmt.Errorf("невалидные зависимости: %w", err)
	}

	s := &Session{
		id:               config.SessionID,
		config:           config,
		deps:             deps,
		preferences:      deps.Preferences,
		log:              config.LoggerFactory.NewLogger("negotiation"),
		metrics:          config.Metrics,
		securityControls: make(map[MediaType]SecurityControl),
		streams:          make(map[MediaType]activeStream),
	}
	if s.preferences == nil {
		s.preferences = sendRecvPreferences{}
	}
	s.machine = s.newStateMachine()

	return s, nil
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// State возвращает текущее состояние автомата
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.machine.Current())
}

// LocalDescription возвращает последнее сформированное локальное описание
func (s *Session) LocalDescription() Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// RemoteDescription возвращает последнее примененное удаленное описание
func (s *Session) RemoteDescription() *RemoteDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// CallInfo возвращает ссылку на информацию о вызове из последнего
// обработанного offer или answer
func (s *Session) CallInfo() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callInfo
}

// SetLocallyOnHold устанавливает признак удержания.
// Учитывается при формировании следующего offer.
func (s *Session) SetLocallyOnHold(onHold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHold = onHold
}

// IsLocallyOnHold возвращает признак удержания
func (s *Session) IsLocallyOnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onHold
}

// ActiveStreams возвращает копию текущих потоков по типам медиа
func (s *Session) ActiveStreams() map[MediaType]StreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[MediaType]StreamHandle, len(s.streams))
	for mediaType, stream := range s.streams {
		result[mediaType] = stream.handle
	}
	return result
}

// CreateOffer формирует первый или повторный (update) offer
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.createOffer(ctx)
	s.metrics.observeOperation(operationCreateOffer, started, err)
	return offer, err
}

func (s *Session) createOffer(ctx context.Context) (string, error) {
	if s.closed {
		return "", NewError(ErrorCodeGeneral, s.id, "сессия закрыта")
	}

	descriptors, err := s.buildAllOutgoing()
	if err != nil {
		return "", err
	}

	desc, err := s.wrapDescription(descriptors)
	if err != nil {
		return "", err
	}

	text, err := s.deps.Codec.Render(desc)
	if err != nil {
		return "", WrapError(ErrorCodeGeneral, s.id, err, "Не удалось сериализовать offer")
	}

	s.local = desc
	if err := s.transition(ctx, eventOfferCreated); err != nil {
		s.log.Warnf("Сессия %s: переход %s не выполнен: %v", s.id, eventOfferCreated, err)
	}
	return text, nil
}

// ProcessOffer обрабатывает входящий offer и возвращает answer.
// Для первого offer answer строится как новое описание, для последующих -
// как update предыдущего локального описания.
func (s *Session) ProcessOffer(ctx context.Context, offerText string) (string, error) {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	answer, err := s.processOffer(ctx, offerText)
	s.metrics.observeOperation(operationProcessOffer, started, err)
	return answer, err
}

func (s *Session) processOffer(ctx context.Context, offerText string) (string, error) {
	if s.closed {
		return "", NewError(ErrorCodeGeneral, s.id, "сессия закрыта")
	}

	offer, err := s.deps.Codec.Parse(offerText)
	if err != nil {
		return "", WrapError(ErrorCodeMalformedInput, s.id, err, "Не удалось разобрать SDP offer")
	}
	s.callInfo = offer.CallInfo

	plan, err := s.planOffer(offer)
	if err != nil {
		return "", err
	}
	if !plan.hasAccepted() {
		return "", NewError(ErrorCodeIllegalArgument, s.id, "Offer не содержит ни одной допустимой media линии")
	}

	desc, err := s.wrapDescription(s.answerDescriptors(plan))
	if err != nil {
		return "", err
	}

	text, err := s.deps.Codec.Render(desc)
	if err != nil {
		return "", WrapError(ErrorCodeGeneral, s.id, err, "Не удалось сериализовать answer")
	}

	if err := s.applyPlan(ctx, plan); err != nil {
		return "", err
	}

	s.deps.Codec.Commit(offer)
	s.local = desc
	s.remote = offer
	s.observePlan(plan)
	if err := s.transition(ctx, eventOfferAnswered); err != nil {
		s.log.Warnf("Сессия %s: переход %s не выполнен: %v", s.id, eventOfferAnswered, err)
	}
	return text, nil
}

// ProcessAnswer применяет answer на ранее отправленный offer.
// Операция выполняется с эксклюзивным доступом к состоянию сессии.
func (s *Session) ProcessAnswer(ctx context.Context, answerText string) error {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.processAnswer(ctx, answerText)
	s.metrics.observeOperation(operationProcessAnswer, started, err)
	return err
}

func (s *Session) processAnswer(ctx context.Context, answerText string) error {
	if s.closed {
		return NewError(ErrorCodeGeneral, s.id, "сессия закрыта")
	}

	answer, err := s.deps.Codec.Parse(answerText)
	if err != nil {
		return WrapError(ErrorCodeMalformedInput, s.id, err, "Не удалось разобрать SDP answer")
	}

	if s.local == nil || !s.canApplyAnswer() {
		return NewError(ErrorCodeGeneral, s.id, "Получен answer без отправленного offer")
	}
	s.callInfo = answer.CallInfo

	plan, err := s.planAnswer(answer)
	if err != nil {
		return err
	}

	if err := s.applyPlan(ctx, plan); err != nil {
		return err
	}

	s.deps.Codec.Commit(answer)
	s.remote = answer
	s.observePlan(plan)
	if err := s.transition(ctx, eventAnswerApplied); err != nil {
		s.log.Warnf("Сессия %s: переход %s не выполнен: %v", s.id, eventAnswerApplied, err)
	}
	return nil
}

// Close закрывает все потоки сессии. После закрытия операции согласования
// возвращают ошибку.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	closed := 0
	for mediaType := range s.streams {
		s.deps.Streams.CloseStream(mediaType)
		delete(s.streams, mediaType)
		closed++
	}
	s.metrics.addStreams(-closed)
}

// wrapDescription оборачивает дескрипторы в новое описание или update
func (s *Session) wrapDescription(descriptors []MediaDescriptor) (Description, error) {
	origin := Origin{UserName: s.config.UserName, Host: s.config.LocalHost}

	var (
		desc Description
		err  error
	)
	if s.local == nil {
		desc, err = s.deps.Codec.BuildFresh(origin, descriptors)
	} else {
		desc, err = s.deps.Codec.BuildUpdate(s.local, origin, descriptors)
	}
	if err != nil {
		return nil, WrapError(ErrorCodeGeneral, s.id, err, "Не удалось построить описание сессии")
	}
	return desc, nil
}

// observePlan учитывает результаты линий в метриках
func (s *Session) observePlan(plan offerAnswerPlan) {
	for _, line := range plan {
		s.metrics.observeLine(line.media.Type, line.outcome == lineDeclined)
	}
}
