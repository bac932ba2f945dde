// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Event is a single tracked occurrence. Fields are exported for
// construction by the tracking façade; the pipeline treats a built
// Event as read-only.
type Event struct {
	// SiteID identifies the property the event belongs to.
	SiteID string `cbor:"site_id"`

	// SessionID is the session active when the event was created.
	// All events created within one session carry the same value.
	SessionID string `cbor:"session_id"`

	// UserID identifies the user, when the host application knows
	// one. Empty for anonymous traffic.
	UserID string `cbor:"user_id,omitempty"`

	// Type classifies the event ("page_view", "heartbeat", ...).
	Type string `cbor:"event_type"`

	// Timestamp is the creation time in Unix milliseconds.
	Timestamp int64 `cbor:"timestamp"`

	// Attributes is the open bag of type-specific fields. Keys are
	// converted to snake_case on the wire. A key that collides with
	// one of the fixed field names is dropped: identity always wins.
	Attributes map[string]any `cbor:"attributes,omitempty"`
}

// Fixed wire field names. Attribute keys that normalize to one of
// these are not allowed to shadow the identity fields.
const (
	fieldSiteID    = "site_id"
	fieldSessionID = "session_id"
	fieldUserID    = "user_id"
	fieldEventType = "event_type"
	fieldTimestamp = "timestamp"
)

// MarshalJSON encodes the event as one flat snake_case object: the
// fixed fields merged with the attribute bag.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Attributes)+5)

	for key, value := range e.Attributes {
		flat[SnakeCase(key)] = value
	}

	flat[fieldSiteID] = e.SiteID
	flat[fieldSessionID] = e.SessionID
	flat[fieldEventType] = e.Type
	flat[fieldTimestamp] = e.Timestamp
	if e.UserID != "" {
		flat[fieldUserID] = e.UserID
	} else {
		delete(flat, fieldUserID)
	}

	return json.Marshal(flat)
}

// MarshalBatch encodes an ordered batch of events as a JSON array,
// the collector wire format.
func MarshalBatch(events []Event) ([]byte, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("event: marshal batch: %w", err)
	}
	return data, nil
}

// SnakeCase converts a camelCase or PascalCase key to snake_case.
// Keys that already are snake_case pass through unchanged. Acronym
// runs collapse ("pageURL" → "page_url") and a digit before an upper
// rune starts a word ("page2View" → "page2_view").
func SnakeCase(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)

	runes := []rune(key)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		// Boundary before an upper rune that follows a lower rune
		// or a digit, or that starts a new word after an acronym
		// run ("URLPath").
		if i > 0 {
			previous := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(previous) || unicode.IsDigit(previous) ||
				(unicode.IsUpper(previous) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
