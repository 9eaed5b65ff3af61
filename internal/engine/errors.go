package engine

import "errors"

// Error codes surfaced through Observer.OnError.
const (
	CodeConfig      = 100
	CodeSource      = 200
	CodeProcessing  = 300
	CodePersistence = 400
)

var (
	// ErrAlreadyRunning is returned by Start when the engine is already running.
	ErrAlreadyRunning = errors.New("engine: already running")
	// ErrImageDirNotSet is returned by Start in mock mode with no image_dir set.
	ErrImageDirNotSet = errors.New("engine: image_dir not set before start")
	// ErrUnknownParam is returned by SetParam for an unrecognized key.
	ErrUnknownParam = errors.New("engine: unknown set_param key")
	// ErrInvalidParamValue is returned by SetParam when val cannot be parsed
	// for the given key.
	ErrInvalidParamValue = errors.New("engine: invalid set_param value")
)
