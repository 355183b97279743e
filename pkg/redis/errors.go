package redis

import "errors"

// Sentinel errors returned by Open and Healthcheck; EventsRedisURL being
// unset entirely (internal/events disabled) never reaches this package at all.
var (
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")
	ErrFailedToParseURL   = errors.New("redis: failed to parse connection URL")
	ErrConnectionFailed   = errors.New("redis: failed to establish connection")
	ErrHealthcheckFailed  = errors.New("redis: healthcheck failed")
)
