package main

import (
	"strings"
	"testing"
)

func TestSendLines(t *testing.T) {
	m := testManager("ws://127.0.0.1:1/unused")

	input := strings.Join([]string{
		`{"type":"subscribe","payload":{"channel":"ticker"}}`,
		``,
		`not json`,
		`{"payload":{"missing":"type"}}`,
		`{"type":"ping"}`,
		`{"type":"order","payload":[1,2,3]}`,
	}, "\n")

	got := sendLines(strings.NewReader(input), m, discardLogger())
	if got != 3 {
		t.Errorf("accepted = %d, want 3", got)
	}
	if q := m.Stats().QueuedMessageCount; q != 3 {
		t.Errorf("queued = %d, want 3 while disconnected", q)
	}
}
