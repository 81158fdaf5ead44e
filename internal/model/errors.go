package model

import "errors"

// Ошибки конвейера генерации
var (
	// ErrTimeout - внешний вызов или опрос превысил отведенное время.
	ErrTimeout = errors.New("timeout")
	// ErrCancelled - операция прервана вызывающей стороной или внешним таймаутом.
	ErrCancelled = errors.New("cancelled")
	// ErrBackendUnavailable - транспортная ошибка при обращении к бэкенду генерации.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrMalformedResponse - ответ бэкенда имеет непригодную форму.
	ErrMalformedResponse = errors.New("malformed backend response")
	// ErrResourceUnavailable - директория вывода отсутствует или недоступна.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// General Request/Server Errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("resource not found")
)
