package models

import "testing"

func TestNormalizeSimType(t *testing.T) {
	tests := []struct {
		input string
		want  SimType
		ok    bool
	}{
		{"ESIM", SimTypeESIM, true},
		{"esim", SimTypeESIM, true},
		{" e-sim ", SimTypeESIM, true},
		{"digital", SimTypeESIM, true},
		{"PHYSICAL", SimTypePhysical, true},
		{"sim card", SimTypePhysical, true},
		{"plastic", SimTypePhysical, true},
		{"hologram", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeSimType(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeSimType(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeStateCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"California", "CA"},
		{"new york", "NY"},
		{"TX", "TX"},
		{"tx", "TX"},
		{"District of Columbia", "DC"},
		{"Atlantis", "Atlantis"},
	}
	for _, tt := range tests {
		if got := NormalizeStateCode(tt.input); got != tt.want {
			t.Errorf("NormalizeStateCode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestShippingAddressMissingFields(t *testing.T) {
	full := ShippingAddress{
		FirstName: "Ada", LastName: "Lovelace", Street: "1 Main St", City: "Austin",
		State: "TX", ZipCode: "78701", Phone: "5551234567", Email: "ada@example.com",
	}
	if missing := full.MissingFields(); len(missing) != 0 {
		t.Errorf("Expected no missing fields, got %v", missing)
	}

	partial := ShippingAddress{FirstName: "Ada"}
	missing := partial.MissingFields()
	if len(missing) != 7 {
		t.Errorf("Expected 7 missing fields, got %d: %v", len(missing), missing)
	}
}
