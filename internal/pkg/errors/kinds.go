package errors

import (
	"errors"
	"fmt"
)

// Kind — машиночитаемый код отказа, видимый клиенту в поле reason.
// Это ЕДИНСТВЕННЫЕ значения, которые могут попасть в answer_rejected,
// recovery_failed и error события.
type Kind string

const (
	KindInvalidSchema         Kind = "INVALID_SCHEMA"
	KindInvalidRequest        Kind = "INVALID_REQUEST"
	KindSessionNotFound       Kind = "SESSION_NOT_FOUND"
	KindSessionEnded          Kind = "SESSION_ENDED"
	KindInvalidState          Kind = "INVALID_STATE"
	KindQuestionNotActive     Kind = "QUESTION_NOT_ACTIVE"
	KindInvalidQuestion       Kind = "INVALID_QUESTION"
	KindTimeExpired           Kind = "TIME_EXPIRED"
	KindAlreadySubmitted      Kind = "ALREADY_SUBMITTED"
	KindParticipantNotFound   Kind = "PARTICIPANT_NOT_FOUND"
	KindParticipantNotActive  Kind = "PARTICIPANT_NOT_ACTIVE"
	KindParticipantEliminated Kind = "PARTICIPANT_ELIMINATED"
	KindParticipantBanned     Kind = "PARTICIPANT_BANNED"
	KindInternalError         Kind = "INTERNAL_ERROR"
)

// RejectError несёт код отказа и человекочитаемое сообщение для клиента.
// Ошибки валидации НЕ распространяются как исключения наверх: обработчики
// превращают их в unicast-события с заполненным reason.
type RejectError struct {
	Kind    Kind
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Reject создает RejectError с заданным кодом и сообщением.
func Reject(kind Kind, message string) *RejectError {
	return &RejectError{Kind: kind, Message: message}
}

// KindOf извлекает код отказа из ошибки (с учетом обёрток). Для неизвестных
// ошибок возвращает INTERNAL_ERROR — детали внутренних сбоев клиенту не
// раскрываются.
func KindOf(err error) Kind {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternalError
}

// MessageOf возвращает клиентское сообщение ошибки. Для внутренних ошибок
// возвращает нейтральный текст.
func MessageOf(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Message
	}
	return "internal server error"
}
