// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil normalizes torrent infohashes and extracts them from
// magnet links.
package hashutil

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"
)

const btihPrefix = "urn:btih:"

// Normalize canonicalizes an infohash by trimming whitespace and
// lowercasing. Blank input yields "".
func Normalize(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// NormalizeAll normalizes a slice of hashes, dropping blanks and
// duplicates while preserving first-occurrence order.
func NormalizeAll(hashes []string) []string {
	if len(hashes) == 0 {
		return nil
	}

	result := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))

	for _, hash := range hashes {
		normalized := Normalize(hash)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}

	return result
}

// FromMagnet extracts the BitTorrent v1 infohash from a magnet link as
// 40 lowercase hex characters. Base32-encoded hashes are decoded to hex.
// Returns "" when the link carries no usable btih topic.
func FromMagnet(magnet string) string {
	trimmed := strings.TrimSpace(magnet)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil || !strings.EqualFold(u.Scheme, "magnet") {
		return ""
	}

	for _, xt := range u.Query()["xt"] {
		rest, ok := cutPrefixFold(strings.TrimSpace(xt), btihPrefix)
		if !ok {
			continue
		}
		if hash := decodeBtih(rest); hash != "" {
			return hash
		}
	}

	return ""
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func decodeBtih(value string) string {
	switch len(value) {
	case 40:
		if _, err := hex.DecodeString(value); err != nil {
			return ""
		}
		return strings.ToLower(value)
	case 32:
		decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(value))
		if err != nil || len(decoded) != 20 {
			return ""
		}
		return hex.EncodeToString(decoded)
	}
	return ""
}
