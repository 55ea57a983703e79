package negotiation

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State состояние сессии согласования
type State string

const (
	// StateUninitialized нет ни локального, ни удаленного описания
	StateUninitialized State = "uninitialized"
	// StateNegotiating offer отправлен, ожидается answer
	StateNegotiating State = "negotiating"
	// StateStable последний обмен полностью применен
	StateStable State = "stable"
)

func (s State) String() string {
	return string(s)
}

const (
	eventOfferCreated  = "offer_created"
	eventOfferAnswered = "offer_answered"
	eventAnswerApplied = "answer_applied"
)

// newStateMachine создает автомат состояний согласования.
// Повторный вход в negotiating происходит на каждом новом цикле offer/answer.
func (s *Session) newStateMachine() *fsm.FSM {
	all := []string{StateUninitialized.String(), StateNegotiating.String(), StateStable.String()}

	return fsm.NewFSM(
		StateUninitialized.String(),
		fsm.Events{
			{Name: eventOfferCreated, Src: all, Dst: StateNegotiating.String()},
			{Name: eventOfferAnswered, Src: all, Dst: StateStable.String()},
			{Name: eventAnswerApplied, Src: []string{StateNegotiating.String(), StateStable.String()}, Dst: StateStable.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.Debugf("Сессия %s: %s -> %s (%s)", s.id, e.Src, e.Dst, e.Event)
			},
		},
	)
}

// transition выполняет событие автомата. Переход в то же состояние ошибкой не считается.
func (s *Session) transition(ctx context.Context, event string) error {
	err := s.machine.Event(ctx, event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// canApplyAnswer проверяет, ожидает ли сессия answer
func (s *Session) canApplyAnswer() bool {
	return s.machine.Can(eventAnswerApplied)
}
