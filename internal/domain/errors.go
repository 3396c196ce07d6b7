package domain

import "errors"

// ErrUserNotFound возвращается, когда пользователь отсутствует в БД.
var ErrUserNotFound = errors.New("пользователь не найден")

// ErrStorageConflict сигнализирует о транзиентном конфликте транзакции.
// Единица работы повторяется ограниченное число раз, после чего ошибка
// отдаётся вызывающему как retriable.
var ErrStorageConflict = errors.New("конфликт транзакции хранилища")

// ErrInvalidPercentage возвращается при проценте вне диапазона 0–100.
// Транспортный слой обязан отсечь такие значения до ядра; проверка в ядре
// остаётся защитной.
var ErrInvalidPercentage = errors.New("процент вне диапазона 0-100")
