// Package domain contains classroom entities without transport or lifecycle logic.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
	DefaultName    = "guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// NewUser builds a guest user bound to a client token.
func NewUser(id UserID) *User {
	return &User{ID: id, Username: DefaultName, Role: RoleGuest}
}

func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return username, nil
}

func (u *User) SetUsername(username string) error {
	name, err := ValidateUsername(username)
	if err != nil {
		return err
	}
	u.Username = name
	return nil
}
