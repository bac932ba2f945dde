// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"testing"
)

func TestMarshalFlattensAttributes(t *testing.T) {
	e := Event{
		SiteID:    "site-1",
		SessionID: "sess-1",
		UserID:    "user-1",
		Type:      "page_view",
		Timestamp: 1766000000000,
		Attributes: map[string]any{
			"pagePath":  "/pricing",
			"loadTime":  412,
			"pageTitle": "Pricing",
		},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if flat["site_id"] != "site-1" || flat["session_id"] != "sess-1" ||
		flat["user_id"] != "user-1" || flat["event_type"] != "page_view" {
		t.Fatalf("identity fields wrong: %v", flat)
	}
	if flat["timestamp"] != float64(1766000000000) {
		t.Fatalf("timestamp wrong: %v", flat["timestamp"])
	}
	if flat["page_path"] != "/pricing" || flat["page_title"] != "Pricing" {
		t.Fatalf("attributes not snake_cased: %v", flat)
	}
	if flat["load_time"] != float64(412) {
		t.Fatalf("load_time wrong: %v", flat["load_time"])
	}
	if _, present := flat["pagePath"]; present {
		t.Fatal("camelCase key leaked to the wire")
	}
}

func TestMarshalOmitsEmptyUserID(t *testing.T) {
	data, err := json.Marshal(Event{SiteID: "s", SessionID: "x", Type: "ping", Timestamp: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, present := flat["user_id"]; present {
		t.Fatal("empty user_id should be omitted")
	}
}

func TestIdentityFieldsWinOverAttributes(t *testing.T) {
	e := Event{
		SiteID:    "real-site",
		SessionID: "real-session",
		Type:      "custom",
		Timestamp: 42,
		Attributes: map[string]any{
			"siteId":    "spoofed",
			"timestamp": 0,
		},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if flat["site_id"] != "real-site" {
		t.Fatalf("attribute shadowed site_id: %v", flat["site_id"])
	}
	if flat["timestamp"] != float64(42) {
		t.Fatalf("attribute shadowed timestamp: %v", flat["timestamp"])
	}
}

func TestMarshalBatchPreservesOrder(t *testing.T) {
	events := []Event{
		{SiteID: "s", SessionID: "x", Type: "first", Timestamp: 1},
		{SiteID: "s", SessionID: "x", Type: "second", Timestamp: 2},
		{SiteID: "s", SessionID: "x", Type: "third", Timestamp: 3},
	}

	data, err := MarshalBatch(events)
	if err != nil {
		t.Fatalf("MarshalBatch: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(decoded))
	}
	for i, want := range []string{"first", "second", "third"} {
		if decoded[i]["event_type"] != want {
			t.Fatalf("position %d: expected %q, got %v", i, want, decoded[i]["event_type"])
		}
	}
}

func TestSnakeCase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"pagePath", "page_path"},
		{"already_snake", "already_snake"},
		{"utm_source", "utm_source"},
		{"pageURL", "page_url"},
		{"URLPath", "url_path"},
		{"simple", "simple"},
		{"Duration", "duration"},
		{"page2View", "page2_view"},
		{"step3OfFlow", "step3_of_flow"},
		{"utm2", "utm2"},
	}
	for _, c := range cases {
		if got := SnakeCase(c.in); got != c.want {
			t.Errorf("SnakeCase(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
