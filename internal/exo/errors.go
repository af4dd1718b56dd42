package exo

import (
	"errors"

	"github.com/relabs-tech/hip_exo/internal/config"
)

var (
	// ErrConfiguration is config.ErrConfiguration, re-exported for callers
	// that only deal with the device.
	ErrConfiguration = config.ErrConfiguration

	// ErrSafetyViolation marks a command outside the hardware limits. It is
	// refused before reaching the transport and is not fatal.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrTransport marks an I/O failure talking to a pack. It is fatal.
	ErrTransport = errors.New("transport error")
)
