package errors

import (
	"errors"
)

// Failure classes of a moderation pipeline run.
var (
	ErrTransientPlatform = errors.New("platform request failed")
	ErrPermission        = errors.New("not enough rights")
	ErrStorageRead       = errors.New("storage read failed")
	ErrStorageWrite      = errors.New("storage write failed")
	ErrUserInput         = errors.New("invalid command input")
)

// Class returns the sentinel the error belongs to, or nil when it is not classified.
func Class(err error) error {
	for _, class := range []error{
		ErrPermission,
		ErrTransientPlatform,
		ErrStorageRead,
		ErrStorageWrite,
		ErrUserInput,
	} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}
