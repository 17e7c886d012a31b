package domain

import "errors"

var (
	// ErrTransientTransfer is a transfer failure that is retried before the
	// song is dropped from the queue.
	ErrTransientTransfer = errors.New("transfer failed")

	// ErrEmptyResponse means the server finished a transfer without sending any bytes.
	ErrEmptyResponse = errors.New("server returned an empty response")

	// ErrLicenseTrialExpired means the server answered with its trial expired error envelope.
	ErrLicenseTrialExpired = errors.New("server API trial expired")

	// ErrStorageExhausted means free space is at or below the configured floor.
	ErrStorageExhausted = errors.New("not enough free space to cache songs")

	// ErrPersistence wraps any failure of the queue or cache store.
	ErrPersistence = errors.New("persistence failure")

	// ErrSongNotFound means no song metadata exists for a queued entry.
	ErrSongNotFound = errors.New("song not found")
)
