package uptane

import "errors"

var (
	ErrSignatureThreshold  = errors.New("uptane: signature threshold not met")
	ErrExpired             = errors.New("uptane: metadata expired")
	ErrVersionRollback     = errors.New("uptane: version rollback detected")
	ErrVersionMismatch     = errors.New("uptane: version in body does not match referenced version")
	ErrHashMismatch        = errors.New("uptane: hash chain mismatch")
	ErrUnknownRole         = errors.New("uptane: unknown role")
	ErrRootRotationSkipped = errors.New("uptane: root rotation must advance exactly one version")
	ErrNoRoot              = errors.New("uptane: no root metadata loaded")
	ErrTargetNotFound      = errors.New("uptane: target not found in image repository")
	ErrTargetMismatch      = errors.New("uptane: director and image targets disagree")
	ErrBadTargetCount      = errors.New("uptane: zero or more than one target names this ECU")
	ErrBadHardwareID       = errors.New("uptane: target names this ECU's serial but the wrong hardware ID")
)
