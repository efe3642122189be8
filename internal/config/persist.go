// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
)

// UpdateLogSettings persists log settings into the config file, updating
// keys in place so operator comments survive.
func (c *AppConfig) UpdateLogSettings(level, path string, maxSize, maxBackups int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	updated := updateLogSettingsInTOML(string(data), level, path, maxSize, maxBackups)

	if err := os.WriteFile(c.configPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	c.Config.LogLevel = level
	c.Config.LogPath = path
	c.Config.LogMaxSize = maxSize
	c.Config.LogMaxBackups = maxBackups

	return nil
}

// updateLogSettingsInTOML rewrites the four log keys inside existing TOML
// text. Commented-out keys are uncommented in place; keys that never appear
// are inserted before the first table header so they stay top-level.
func updateLogSettingsInTOML(content, level, path string, maxSize, maxBackups int) string {
	replacements := map[string]string{
		"logLevel":      fmt.Sprintf("logLevel = %q", level),
		"logPath":       fmt.Sprintf("logPath = %q", path),
		"logMaxSize":    fmt.Sprintf("logMaxSize = %d", maxSize),
		"logMaxBackups": fmt.Sprintf("logMaxBackups = %d", maxBackups),
	}

	lines := strings.Split(content, "\n")
	seen := make(map[string]bool, len(replacements))

	inTable := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inTable = true
		}
		if inTable {
			continue
		}

		for key, replacement := range replacements {
			if seen[key] {
				continue
			}
			if isTOMLKeyLine(trimmed, key) {
				lines[i] = replacement
				seen[key] = true
				break
			}
		}
	}

	var missing []string
	for _, key := range []string{"logLevel", "logPath", "logMaxSize", "logMaxBackups"} {
		if !seen[key] {
			missing = append(missing, replacements[key])
		}
	}
	if len(missing) == 0 {
		return strings.Join(lines, "\n")
	}

	// Insert missing keys before the first table so they remain top-level.
	insertAt := len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[") {
			insertAt = i
			break
		}
	}

	out := make([]string, 0, len(lines)+len(missing)+1)
	out = append(out, lines[:insertAt]...)
	out = append(out, missing...)
	out = append(out, "")
	out = append(out, lines[insertAt:]...)

	return strings.Join(out, "\n")
}

// isTOMLKeyLine matches `key = ...` and its commented form `#key = ...`.
func isTOMLKeyLine(trimmed, key string) bool {
	candidate := strings.TrimPrefix(trimmed, "#")
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, key) {
		return false
	}
	rest := strings.TrimPrefix(candidate, key)
	rest = strings.TrimSpace(rest)
	return strings.HasPrefix(rest, "=")
}
