package model

import (
	"errors"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrNoToken       = errors.New("no token stored: run `kraken login` to authenticate this machine")
)
