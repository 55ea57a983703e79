// Package call_leg связывает SIP сообщения плеча вызова с сессией согласования:
// offer в INVITE и re-INVITE, answer в 2xx или ACK, delayed offer в 200 OK.
package call_leg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/arzzra/sdp_negotiator/pkg/negotiation"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/logging"
)

// ContentTypeSDP тип содержимого тела с SDP
const ContentTypeSDP = "application/sdp"

const (
	statusUnsupportedMediaType = 415
	statusNotAcceptableHere    = 488
	statusServerInternalError  = 500
)

var (
	// ErrMissingAnswer ACK на delayed offer пришел без answer
	ErrMissingAnswer = errors.New("ACK не содержит SDP answer")
	// ErrUnsupportedBody тело сообщения не является SDP
	ErrUnsupportedBody = errors.New("тело сообщения не является SDP")
)

// Negotiator операции сессии согласования, нужные плечу вызова
type Negotiator interface {
	ID() string
	CreateOffer(ctx context.Context) (string, error)
	ProcessOffer(ctx context.Context, offer string) (string, error)
	ProcessAnswer(ctx context.Context, answer string) error
	SetLocallyOnHold(onHold bool)
}

// Option настройка плеча вызова
type Option func(*Leg)

// WithLoggerFactory задает фабрику логгеров
func WithLoggerFactory(factory logging.LoggerFactory) Option {
	return func(l *Leg) {
		l.log = factory.NewLogger("call_leg")
	}
}

// Leg плечо вызова
type Leg struct {
	session Negotiator
	log     logging.LeveledLogger

	mutex sync.Mutex
	// answerInAck offer отправлен в 200 OK, answer ожидается в ACK
	answerInAck bool
}

// NewLeg создает плечо вызова для сессии
func NewLeg(session Negotiator, opts ...Option) *Leg {
	l := &Leg{
		session: session,
		log:     logging.NewDefaultLoggerFactory().NewLogger("call_leg"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewInvite создает INVITE (или re-INVITE) с offer в теле
func (l *Leg) NewInvite(ctx context.Context, recipient sip.Uri) (*sip.Request, error) {
	offer, err := l.session.CreateOffer(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать offer: %w", err)
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	appendContentType(req)
	req.SetBody([]byte(offer))
	return req, nil
}

// Hold устанавливает или снимает удержание и создает re-INVITE с update offer
func (l *Leg) Hold(ctx context.Context, recipient sip.Uri, onHold bool) (*sip.Request, error) {
	l.session.SetLocallyOnHold(onHold)
	return l.NewInvite(ctx, recipient)
}

// HandleInvite обрабатывает входящий INVITE или re-INVITE и возвращает ответ
func (l *Leg) HandleInvite(ctx context.Context, req *sip.Request) *sip.Response {
	body := req.Body()
	if len(body) == 0 {
		return l.delayedOffer(ctx, req)
	}

	if err := checkContentType(req); err != nil {
		l.log.Warnf("Сессия %s: %v", l.session.ID(), err)
		return sip.NewResponseFromRequest(req, statusUnsupportedMediaType, "Unsupported Media Type", nil)
	}

	answer, err := l.session.ProcessOffer(ctx, string(body))
	if err != nil {
		code, reason := statusFor(err)
		l.log.Warnf("Сессия %s: offer отклонен с кодом %d: %v", l.session.ID(), code, err)
		return sip.NewResponseFromRequest(req, code, reason, nil)
	}

	return sdpResponse(req, answer)
}

// delayedOffer отвечает на INVITE без тела: offer уходит в 200 OK
func (l *Leg) delayedOffer(ctx context.Context, req *sip.Request) *sip.Response {
	offer, err := l.session.CreateOffer(ctx)
	if err != nil {
		code, reason := statusFor(err)
		l.log.Errorf("Сессия %s: не удалось создать delayed offer: %v", l.session.ID(), err)
		return sip.NewResponseFromRequest(req, code, reason, nil)
	}

	l.mutex.Lock()
	l.answerInAck = true
	l.mutex.Unlock()

	return sdpResponse(req, offer)
}

// HandleAck применяет answer из ACK, если offer был отправлен в 200 OK
func (l *Leg) HandleAck(ctx context.Context, req *sip.Request) error {
	l.mutex.Lock()
	expected := l.answerInAck
	l.answerInAck = false
	l.mutex.Unlock()

	if !expected {
		return nil
	}

	body := req.Body()
	if len(body) == 0 {
		return ErrMissingAnswer
	}
	if err := checkContentType(req); err != nil {
		return err
	}
	return l.session.ProcessAnswer(ctx, string(body))
}

// HandleResponse применяет answer из 2xx ответа на INVITE или re-INVITE
func (l *Leg) HandleResponse(ctx context.Context, res *sip.Response) error {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		l.log.Debugf("Сессия %s: ответ %d без согласования", l.session.ID(), res.StatusCode)
		return nil
	}

	body := res.Body()
	if len(body) == 0 {
		return nil
	}
	if err := checkContentType(res); err != nil {
		return err
	}
	return l.session.ProcessAnswer(ctx, string(body))
}

// AwaitingAnswerInAck проверяет, ожидается ли answer в ACK
func (l *Leg) AwaitingAnswerInAck() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.answerInAck
}

type contentTyped interface {
	ContentType() *sip.ContentTypeHeader
}

// checkContentType проверяет Content-Type тела. Отсутствующий заголовок допускается.
func checkContentType(msg contentTyped) error {
	ct := msg.ContentType()
	if ct == nil {
		return nil
	}
	value := strings.ToLower(strings.TrimSpace(strings.SplitN(ct.Value(), ";", 2)[0]))
	if value != ContentTypeSDP {
		return fmt.Errorf("%w: %s", ErrUnsupportedBody, ct.Value())
	}
	return nil
}

// statusFor возвращает SIP код ответа для ошибки согласования
func statusFor(err error) (int, string) {
	code, ok := negotiation.CodeOf(err)
	if !ok {
		return statusServerInternalError, "Server Internal Error"
	}
	switch code {
	case negotiation.ErrorCodeMalformedInput:
		return sip.StatusBadRequest, "Bad Request"
	case negotiation.ErrorCodeIllegalArgument:
		return statusNotAcceptableHere, "Not Acceptable Here"
	default:
		return statusServerInternalError, "Server Internal Error"
	}
}

func sdpResponse(req *sip.Request, body string) *sip.Response {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", []byte(body))
	appendContentType(res)
	return res
}

func appendContentType(msg interface{ AppendHeader(sip.Header) }) {
	ct := sip.ContentTypeHeader(ContentTypeSDP)
	msg.AppendHeader(&ct)
}
