package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrForbidden используется, когда у клиента недостаточно прав для действия
	// (например, управляющая операция не от хоста сессии).
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния (например, переход
	// состояния сессии, запрещённый из текущего состояния).
	ErrConflict = errors.New("resource state conflict")
)
