// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed failure taxonomy every subsystem classifies into.
// Classification happens once, at the boundary that observed the failure;
// callers branch on kind, never on error strings.
type ErrorKind string

const (
	KindUnknown       ErrorKind = ""
	KindNetwork       ErrorKind = "network"
	KindTransientHTTP ErrorKind = "transient_http"
	KindBan           ErrorKind = "ban"
	KindAuth          ErrorKind = "auth"
	KindParse         ErrorKind = "parse"
	KindLogicGuard    ErrorKind = "logic_guard"
	KindIO            ErrorKind = "io"
)

// ErrNoProxyAvailable is returned by the pool when every entry is banned or
// cooling down. It always maps to the proxy-ban outage exit code.
var ErrNoProxyAvailable = errors.New("no proxy available: all entries banned or cooling down")

// ClassifiedError attaches an ErrorKind to a cause. It unwraps so that
// errors.Is/As keep seeing the underlying error.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with a kind. A nil err stays nil.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classifyf builds a new classified error from a format string.
func Classifyf(kind ErrorKind, format string, args ...any) error {
	return &ClassifiedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the wrap chain and returns the outermost classification,
// or KindUnknown when nothing in the chain was classified.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether a retry of the same request could plausibly
// succeed. Bans, auth failures and parse errors never retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTransientHTTP:
		return true
	default:
		return false
	}
}
