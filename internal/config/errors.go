package config

import "errors"

// ErrInvalid marks a configuration error, fatal at startup (spec §7).
var ErrInvalid = errors.New("invalid configuration")
