package aggregate

import (
	"errors"
	"testing"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare digits", "123456", "tg:123456", false},
		{"tg prefix", "tg:123456", "tg:123456", false},
		{"telegram prefix", "telegram:123456", "tg:123456", false},
		{"uppercase prefix and spaces", "  TG:123456 ", "tg:123456", false},
		{"named identity", "Alice.Chen", "alice.chen", false},
		{"email-like identity", "mom@family", "mom@family", false},
		{"empty", "", "", true},
		{"only whitespace", "   ", "", true},
		{"interior spaces", "tg: 123", "", true},
		{"punctuation lead", "-abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIdentity(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, models.ErrInvalidIdentity) {
					t.Fatalf("err = %v, want ErrInvalidIdentity", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeIdentity(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdentityStable(t *testing.T) {
	for _, raw := range []string{"987", "tg:987", " TELEGRAM:987 "} {
		got, err := NormalizeIdentity(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got != "tg:987" {
			t.Errorf("%q normalized to %q, want tg:987", raw, got)
		}
	}
}
