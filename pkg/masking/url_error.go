// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package masking

import (
	"errors"
	"net/url"
	"strings"
)

// sensitiveParams are query keys whose values must never surface in error
// messages.
var sensitiveParams = []string{
	"apikey",
	"api_key",
	"passkey",
	"password",
	"token",
	"secret",
}

// URLError returns an error safe for logging: when the chain contains a
// *url.Error its URL has credentials and sensitive query values replaced
// with REDACTED. Other errors pass through untouched.
func URLError(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	return &url.Error{
		Op:  urlErr.Op,
		URL: redactURL(urlErr.URL),
		Err: urlErr.Err,
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if u.User != nil {
		u.User = url.UserPassword("REDACTED", "REDACTED")
	}

	q := u.Query()
	changed := false
	for key := range q {
		lower := strings.ToLower(key)
		for _, sensitive := range sensitiveParams {
			if lower == sensitive {
				q.Set(key, "REDACTED")
				changed = true
				break
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}
