package main

import (
	"github.com/pkg/errors"
)

// Failure classes. Wrap them with context and test with errors.Is.
var (
	ErrDecode            = errors.New("decode failure")
	ErrHardwareInit      = errors.New("hardware init failure")
	ErrMissingAsset      = errors.New("missing asset")
	ErrUnsupportedFormat = errors.New("unsupported asset format")
	ErrNoFrames          = errors.New("asset has no frames")
	ErrInvalidPanel      = errors.New("panel index out of range")
)

// hardwareError classes a driver failure as ErrHardwareInit while keeping the
// driver's error as the cause.
type hardwareError struct {
	cause error
}

func (e *hardwareError) Error() string {
	return ErrHardwareInit.Error() + ": " + e.cause.Error()
}

func (e *hardwareError) Unwrap() error { return e.cause }

func (e *hardwareError) Is(target error) bool { return target == ErrHardwareInit }

// hardwareInitError tags err as ErrHardwareInit unless it already is one.
func hardwareInitError(err error) error {
	if err == nil || errors.Is(err, ErrHardwareInit) {
		return err
	}
	return &hardwareError{cause: err}
}

// decodeError tags err as a decode failure for path.
func decodeError(path string, err error) error {
	return errors.Wrapf(ErrDecode, "%s: %v", path, err)
}

// missingAsset tags path as a missing asset.
func missingAsset(path string) error {
	return errors.Wrap(ErrMissingAsset, path)
}

// isAssetError reports whether err means the asset itself cannot be played.
func isAssetError(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrNoFrames) ||
		errors.Is(err, ErrMissingAsset) ||
		errors.Is(err, ErrUnsupportedFormat)
}
