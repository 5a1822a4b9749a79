package models

import (
	"testing"
	"time"
)

func TestIsValidTicketTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{TicketStatusPending, TicketStatusUsed, true},
		{TicketStatusPending, TicketStatusExpired, true},
		{TicketStatusPending, TicketStatusCancelled, true},

		{TicketStatusUsed, TicketStatusPending, false},
		{TicketStatusUsed, TicketStatusExpired, false},
		{TicketStatusExpired, TicketStatusUsed, false},
		{TicketStatusCancelled, TicketStatusPending, false},
		{"nonexistent", TicketStatusUsed, false},
		{TicketStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidTicketTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidTicketTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{TicketStatusUsed, TicketStatusExpired, TicketStatusCancelled} {
		if len(ValidTicketTransitions[status]) != 0 {
			t.Errorf("terminal status %q should have no transitions", status)
		}
	}
}

func TestDeviceHelpers(t *testing.T) {
	now := time.Now()
	d := UserDevice{
		CreatedAt: now.Add(-72 * time.Hour),
		Metadata:  Metadata{DeviceMetaRecovered: true},
	}

	if d.IsRevoked() {
		t.Error("device without revoked_at reported revoked")
	}
	if !d.IsRecovered() {
		t.Error("recovered metadata flag not detected")
	}
	if got := d.AgeDays(now); got != 3 {
		t.Errorf("AgeDays = %d, want 3", got)
	}

	revoked := now
	d.RevokedAt = &revoked
	if !d.IsRevoked() {
		t.Error("revoked device not detected")
	}
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{"s": "value", "b": true, "n": 1}

	if m.GetString("s") != "value" {
		t.Error("GetString failed")
	}
	if m.GetString("n") != "" {
		t.Error("GetString on non-string should return empty")
	}
	if !m.GetBool("b") {
		t.Error("GetBool failed")
	}

	var nilMeta Metadata
	if nilMeta.GetString("x") != "" || nilMeta.GetBool("x") {
		t.Error("nil metadata accessors should return zero values")
	}
}
