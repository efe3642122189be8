// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notify

import (
	"fmt"
	"strings"
)

type EventType string

const (
	EventRunReport   EventType = "run_report"
	EventBanRecorded EventType = "ban_recorded"
	EventTest        EventType = "test"
)

type EventDefinition struct {
	Type        EventType
	Label       string
	Description string
}

var eventDefinitions = []EventDefinition{
	{Type: EventRunReport, Label: "Run report", Description: "A pipeline run finishes, whatever the outcome (empty runs included)."},
	{Type: EventBanRecorded, Label: "Proxy banned", Description: "A proxy is written to the ban ledger during a run."},
	{Type: EventTest, Label: "Test notification", Description: "Manual delivery check from the CLI."},
}

var eventTypeIndex = func() map[string]int {
	idx := make(map[string]int, len(eventDefinitions))
	for i, def := range eventDefinitions {
		idx[string(def.Type)] = i
	}
	return idx
}()

func EventDefinitions() []EventDefinition {
	out := make([]EventDefinition, len(eventDefinitions))
	copy(out, eventDefinitions)
	return out
}

func IsValidEventType(value string) bool {
	_, ok := eventTypeIndex[value]
	return ok
}

// NormalizeEventTypes trims, validates and dedupes a configured event
// filter, returning it in definition order.
func NormalizeEventTypes(input []string) ([]string, error) {
	if len(input) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(input))
	for _, raw := range input {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if !IsValidEventType(value) {
			return nil, fmt.Errorf("unknown event type: %s", value)
		}
		seen[value] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for _, def := range eventDefinitions {
		value := string(def.Type)
		if _, ok := seen[value]; ok {
			out = append(out, value)
		}
	}

	return out, nil
}

func labelFor(t EventType) string {
	if i, ok := eventTypeIndex[string(t)]; ok {
		return eventDefinitions[i].Label
	}
	return string(t)
}
