package redis

import (
	"context"
	"io"
)

// Shutdown returns a function that gracefully closes the Redis client,
// suitable for registering with a process shutdown hook.
func Shutdown(client io.Closer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Close()
	}
}
