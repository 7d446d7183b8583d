package extractor

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "49.99", "49.99"},
		{"currency symbol", "£49.99", "49.99"},
		{"prefix text", "Now: $1,299.99", "1299.99"},
		{"decimal comma", "49,99 €", "49.99"},
		{"european thousands", "1.299,50", "1299.5"},
		{"thousands comma only", "1,299", "1299"},
		{"integer", "120", "120"},
		{"empty", "", ""},
		{"no digits", "Call for price", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.in)
			if tt.want == "" {
				if got != nil {
					t.Errorf("ParsePrice(%q) = %v, want nil", tt.in, got)
				}
				return
			}
			want, _ := decimal.NewFromString(tt.want)
			if got == nil || !got.Equal(want) {
				t.Errorf("ParsePrice(%q) = %v, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDiscount(t *testing.T) {
	d := func(s string) decimal.Decimal {
		v, err := decimal.NewFromString(s)
		if err != nil {
			t.Fatalf("bad decimal %q: %v", s, err)
		}
		return v
	}

	tests := []struct {
		name     string
		sale     string
		original string
		want     string
	}{
		{"quarter off", "75", "100", "25"},
		{"rounded to cents", "59.99", "89.99", "33.34"},
		{"tiny markdown", "99.99", "100", "0.01"},
		{"equal prices", "100", "100", ""},
		{"sale above original", "110", "100", ""},
		{"zero original", "50", "0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Discount(d(tt.sale), d(tt.original))
			if tt.want == "" {
				if got != nil {
					t.Errorf("Discount(%s, %s) = %v, want nil", tt.sale, tt.original, got)
				}
				return
			}
			if got == nil || !got.Equal(d(tt.want)) {
				t.Errorf("Discount(%s, %s) = %v, want %s", tt.sale, tt.original, got, tt.want)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Midnight Black", "midnight-black"},
		{"  Off White ", "off-white"},
		{"Rouge/Noir", "rouge-noir"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
