// Package ratelimit throttles write requests per client.
package ratelimit

import "context"

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Nop allows everything.
type Nop struct{}

func (Nop) Allow(context.Context, string) bool { return true }
