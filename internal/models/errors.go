package models

import "github.com/pkg/errors"

// Ошибки предметной области. Проверяются через errors.Is, транспорт маппит их в коды ответа.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
)
