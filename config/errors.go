package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidLogFormat       = errors.New("invalid log format")
	ErrInvalidMailboxSize     = errors.New("invalid mailbox size")
	ErrInvalidObserverTimeout = errors.New("invalid observer timeout")
	ErrInvalidDeliveryWorkers = errors.New("invalid delivery workers")
	ErrInvalidCallTimeout     = errors.New("invalid call timeout")
	ErrInvalidRefreshInterval = errors.New("invalid refresh interval")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrEnvironmentVarError = errors.New("environment variable error")
)
