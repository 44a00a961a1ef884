package utils

import "testing"

func TestParseGermanNumber(t *testing.T) {
	tests := []struct {
		raw    string
		ctx    NumberContext
		want   float64
		wantOK bool
	}{
		{"890 €", Money, 890, true},
		{"1.200 €", Money, 1200, true},
		{"1.200,50 €", Money, 1200.5, true},
		{"12.345.678 €", Money, 12345678, true},
		{"1,200.50 EUR", Money, 1200.5, true},
		{"450,- €", Money, 450, true},
		{"99,90€", Money, 99.9, true},
		{"2,5 Zimmer", Decimal, 2.5, true},
		{"1.5 Zimmer", Decimal, 1.5, true},
		{"18 m²", Decimal, 18, true},
		{"65,75m²", Decimal, 65.75, true},
		{"-1", Decimal, -1, true},
		{"auf Anfrage", Money, 0, false},
		{"", Decimal, 0, false},
		{"k.A.", Money, 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseGermanNumber(tt.raw, tt.ctx)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseGermanNumber(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}
