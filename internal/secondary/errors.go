package secondary

import "errors"

var (
	ErrNotReady          = errors.New("secondary: no verified target ready to receive or install")
	ErrUnsupportedTarget = errors.New("secondary: update agent does not support this target")
	ErrWrongProtocolStep = errors.New("secondary: message received out of sequence for the current lifecycle state")
)
