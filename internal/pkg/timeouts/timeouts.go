// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package timeouts scales deep-storage submit budgets with batch size so
// a large sweep is not cut off by a flat deadline.
package timeouts

import (
	"context"
	"time"
)

const (
	// DefaultSubmitTimeout covers login, a single-item batch and its
	// status polls.
	DefaultSubmitTimeout = 30 * time.Second

	// MaxSubmitTimeout caps the budget however large the batch is.
	MaxSubmitTimeout = 5 * time.Minute

	// PerMagnetSubmitTimeout is added for every magnet beyond the first.
	PerMagnetSubmitTimeout = 3 * time.Second
)

// AdaptiveSubmitTimeout returns the budget for a batch of the given size.
// Zero or negative counts get the default; growth is linear and capped.
func AdaptiveSubmitTimeout(magnetCount int) time.Duration {
	if magnetCount <= 1 {
		return DefaultSubmitTimeout
	}

	timeout := DefaultSubmitTimeout + time.Duration(magnetCount-1)*PerMagnetSubmitTimeout
	if timeout > MaxSubmitTimeout {
		return MaxSubmitTimeout
	}
	return timeout
}

// WithSubmitTimeout applies the timeout unless the context already
// carries a deadline, which always wins. A nil context starts from
// Background; non-positive timeouts fall back to the default.
func WithSubmitTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
