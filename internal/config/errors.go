package config

import "errors"

// ErrConfiguration marks invalid or missing configuration, including a
// missing zero reference and rejected parameter messages. It is recovered
// locally: the offending value is refused and the prior state kept.
var ErrConfiguration = errors.New("configuration error")
