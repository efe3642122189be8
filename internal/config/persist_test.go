// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"strings"
	"testing"
)

func TestUpdateLogSettingsInTOMLUpdatesCommentedKeysInPlace(t *testing.T) {
	content := `# config.toml - Auto-generated on first run

# Log file path
# If not defined, logs to stderr only
# Optional
#logPath = "log/magnetarr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Catalog crawl settings
[scraper]
#pageSleep = "2s"
`
	updated := updateLogSettingsInTOML(content, "DEBUG", "/config/magnetarr.log", 50, 3)

	if strings.Contains(updated, "# Log settings") {
		t.Fatalf("unexpected appended log settings section:\n%s", updated)
	}

	scraperIndex := strings.Index(updated, "[scraper]")
	if scraperIndex == -1 {
		t.Fatalf("missing scraper section:\n%s", updated)
	}

	lastLogPath := strings.LastIndex(updated, "logPath")
	if lastLogPath == -1 {
		t.Fatalf("missing logPath setting:\n%s", updated)
	}
	if lastLogPath > scraperIndex {
		t.Fatalf("logPath appended after scraper section:\n%s", updated)
	}

	if !strings.Contains(updated, `logPath = "/config/magnetarr.log"`) {
		t.Fatalf("logPath not updated in place:\n%s", updated)
	}
	if !strings.Contains(updated, "logMaxSize = 50") {
		t.Fatalf("logMaxSize not updated in place:\n%s", updated)
	}
	if !strings.Contains(updated, "logMaxBackups = 3") {
		t.Fatalf("logMaxBackups not updated in place:\n%s", updated)
	}
	if !strings.Contains(updated, `logLevel = "DEBUG"`) {
		t.Fatalf("logLevel not updated in place:\n%s", updated)
	}
}

func TestUpdateLogSettingsInTOMLInsertsMissingKeysBeforeFirstTable(t *testing.T) {
	content := `# minimal config

[scraper]
baseUrl = "https://catalog.example.org"
`
	updated := updateLogSettingsInTOML(content, "WARN", "/var/log/magnetarr.log", 10, 5)

	scraperIndex := strings.Index(updated, "[scraper]")
	for _, key := range []string{`logLevel = "WARN"`, `logPath = "/var/log/magnetarr.log"`, "logMaxSize = 10", "logMaxBackups = 5"} {
		idx := strings.Index(updated, key)
		if idx == -1 {
			t.Fatalf("missing inserted key %q:\n%s", key, updated)
		}
		if idx > scraperIndex {
			t.Fatalf("key %q inserted below a table header:\n%s", key, updated)
		}
	}

	if !strings.Contains(updated, `baseUrl = "https://catalog.example.org"`) {
		t.Fatalf("existing settings must survive:\n%s", updated)
	}
}
