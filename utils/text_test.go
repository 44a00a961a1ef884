package utils

import "testing"

func TestFoldDistrict(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Neukölln", "neukoelln"},
		{"Neukoelln", "neukoelln"},
		{"  kreuzberg ", "kreuzberg"},
		{"Berlin - Mitte", "mitte"},
		{"Alt-Treptow", "alt treptow"},
		{"Weißensee", "weissensee"},
		{"Crème", "creme"},
	}
	for _, tt := range tests {
		if got := FoldDistrict(tt.in); got != tt.want {
			t.Errorf("FoldDistrict(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
