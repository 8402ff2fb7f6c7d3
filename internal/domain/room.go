package domain

import (
	"errors"
	"strings"
)

type (
	RoomName string
	RoomID   string
)

const MaxRoomNameLen = 64

var ErrRoomNameEmpty = errors.New("room name empty")

type Room struct {
	ID   RoomID   `json:"id"`
	Name RoomName `json:"name"`
}

func NormalizeRoomName(raw string) (RoomName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomNameEmpty
	}
	if len(raw) > MaxRoomNameLen {
		raw = raw[:MaxRoomNameLen]
	}
	return RoomName(raw), nil
}
