package app

import "errors"

var (
	ErrNoSession    = errors.New("no such session")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("not in a room")
	ErrRateLimited  = errors.New("rate limited")
	ErrEmptyChat    = errors.New("empty chat message")
	ErrChatTooLong  = errors.New("chat message too long")
)
