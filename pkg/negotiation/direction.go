package negotiation

import "strings"

// Direction определяет направление медиа потока относительно описывающей стороны.
// Значение является битовой маской: бит отправки и бит приема.
type Direction int

const (
	directionSend Direction = 1 << iota
	directionRecv
)

const (
	DirectionInactive Direction = 0                             // Неактивно
	DirectionSendOnly           = directionSend                 // Только отправка
	DirectionRecvOnly           = directionRecv                 // Только прием
	DirectionSendRecv           = directionSend | directionRecv // Отправка и прием
)

// String возвращает значение SDP атрибута направления
func (d Direction) String() string {
	switch d {
	case DirectionSendRecv:
		return "sendrecv"
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// ParseDirection разбирает SDP атрибут направления.
// Второе значение false если строка не является атрибутом направления.
func ParseDirection(raw string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sendrecv":
		return DirectionSendRecv, true
	case "sendonly":
		return DirectionSendOnly, true
	case "recvonly":
		return DirectionRecvOnly, true
	case "inactive":
		return DirectionInactive, true
	default:
		return DirectionInactive, false
	}
}

// CanSend проверяет, разрешена ли отправка
func (d Direction) CanSend() bool {
	return d&directionSend != 0
}

// CanReceive проверяет, разрешен ли прием
func (d Direction) CanReceive() bool {
	return d&directionRecv != 0
}

// And сужает направление по возможностям обеих сторон.
// Отправка остается только если обе стороны разрешают отправку, прием аналогично.
// INACTIVE поглощает любое значение.
func (d Direction) And(other Direction) Direction {
	return d & other & DirectionSendRecv
}

// AnswerFor вычисляет направление, которое локальная сторона (с возможностями d)
// должна объявить в ответ на направление remote, предложенное другой стороной.
// Используется только при ответе, при формировании offer применяется And.
func (d Direction) AnswerFor(remote Direction) Direction {
	switch remote {
	case DirectionSendOnly:
		if d.CanReceive() {
			return DirectionRecvOnly
		}
		return DirectionInactive
	case DirectionRecvOnly:
		if d.CanSend() {
			return DirectionSendOnly
		}
		return DirectionInactive
	case DirectionSendRecv:
		return d
	default:
		return DirectionInactive
	}
}
