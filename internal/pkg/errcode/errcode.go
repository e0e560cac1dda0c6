package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrValidation
	ErrBackendUnavailable
	ErrPartialFailure
	ErrInternal
	ErrUploadFailed
)
