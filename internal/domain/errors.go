package domain

import "errors"

// Ошибки, общие для всех реализаций репозиториев.
var (
	// ErrChannelNotFound — канал с таким именем не зарегистрирован.
	ErrChannelNotFound = errors.New("канал не найден")
	// ErrSubscriptionNotFound — подписка с таким секретом не существует.
	ErrSubscriptionNotFound = errors.New("подписка не найдена")
	// ErrMessageNotFound — сообщение отсутствует в хранилище.
	ErrMessageNotFound = errors.New("сообщение не найдено")
	// ErrInvalidStatus — статус вне допустимого набора MessageStatuses.
	ErrInvalidStatus = errors.New("недопустимый статус сообщения")
	// ErrChannelExists — канал с таким именем уже зарегистрирован.
	ErrChannelExists = errors.New("канал уже существует")
	// ErrAlreadySubscribed — адресат уже подписан на канал в этом формате.
	ErrAlreadySubscribed = errors.New("подписка уже оформлена")
)
