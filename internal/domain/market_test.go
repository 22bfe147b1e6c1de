package domain

import (
	"strings"
	"testing"
	"time"
)

func TestMarketPoolPrice(t *testing.T) {
	pool := MarketPool{INRReserve: 2000.00, MRXReserve: 1000.0}
	if got := pool.Price(); got != 2.0 {
		t.Errorf("expected price 2.0, got %v", got)
	}

	empty := MarketPool{INRReserve: 2000.00, MRXReserve: 0}
	if got := empty.Price(); got != 0 {
		t.Errorf("empty reserve must price at 0, got %v", got)
	}
}

func TestRounding(t *testing.T) {
	if got := RoundINR(104.475065); got != 104.48 {
		t.Errorf("RoundINR: expected 104.48, got %v", got)
	}
	if got := RoundMRX(47.50000049); got != 47.5 {
		t.Errorf("RoundMRX: expected 47.5, got %v", got)
	}
	if got := RoundPrice(2.19947506); got != 2.1995 {
		t.Errorf("RoundPrice: expected 2.1995, got %v", got)
	}
}

func TestMaskAccountNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"123456789012", "****9012"},
		{" 123456789012 ", "****9012"},
		{"1234", "****1234"},
		{"123", "****"},
		{"", "****"},
	}
	for _, tc := range cases {
		if got := MaskAccountNumber(tc.in); got != tc.want {
			t.Errorf("MaskAccountNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewRecordID(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	id := NewRecordID("TXN", now)

	if !strings.HasPrefix(id, "TXN1710496800") {
		t.Fatalf("unexpected id shape: %q", id)
	}
	entropy := strings.TrimPrefix(id, "TXN1710496800")
	if len(entropy) != 6 {
		t.Errorf("expected 6 entropy characters, got %q", entropy)
	}
	if entropy != strings.ToUpper(entropy) {
		t.Errorf("entropy must be uppercase, got %q", entropy)
	}

	if other := NewRecordID("TXN", now); other == id {
		t.Errorf("ids for the same instant must still differ")
	}
}
