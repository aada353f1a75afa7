package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeDigest(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"0xabc", "0xabc", true},
		{"  0xabc\t", "0xabc", true},
		{" ", "", false},
		{"", "", false},
		{"\n\t", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeDigest(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeDigest(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewBatch(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []Digest
	}{
		{"empty", nil, []Digest{}},
		{"blanks only", []string{"", " ", "\t"}, []Digest{}},
		{"dedupes after trim", []string{"0xabc", " 0xabc ", "0xdef", "0xabc"}, []Digest{"0xabc", "0xdef"}},
		{"keeps first-seen order", []string{"b", "a", "c", "a"}, []Digest{"b", "a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatch(tt.in)
			if !reflect.DeepEqual(b.Digests, tt.want) {
				t.Errorf("Digests = %v, want %v", b.Digests, tt.want)
			}
			if b.Size() != len(tt.want) {
				t.Errorf("Size() = %d, want %d", b.Size(), len(tt.want))
			}
			if b.Empty() != (len(tt.want) == 0) {
				t.Errorf("Empty() = %v", b.Empty())
			}
		})
	}
}
