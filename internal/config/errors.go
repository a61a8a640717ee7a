package config

import (
	"errors"
	"strings"
)

// ErrConfiguration marks every configuration failure.
var ErrConfiguration = errors.New("configuration error")

// Error lists what is wrong with a configuration.
type Error struct {
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	msg := "configuration error: " + strings.Join(e.Problems, "; ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}
