package aggregate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

var (
	digitsOnly = regexp.MustCompile(`^\d+$`)
	keyShape   = regexp.MustCompile(`^[a-z0-9][a-z0-9_.@-]*$`)
)

// NormalizeIdentity maps a loosely-formatted external identifier to its
// canonical owner key. The mapping is pure and stable: the same raw input
// always yields the same key. Numeric telegram ids canonicalize to
// "tg:<digits>" whether or not they arrive with a prefix; other well-formed
// identifiers are lowercased and kept as-is. Anything else is rejected
// before a query is ever issued.
func NormalizeIdentity(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimPrefix(key, "telegram:")
	key = strings.TrimPrefix(key, "tg:")

	if key == "" {
		return "", fmt.Errorf("%w: empty identifier", models.ErrInvalidIdentity)
	}
	if digitsOnly.MatchString(key) {
		return "tg:" + key, nil
	}
	if !keyShape.MatchString(key) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidIdentity, raw)
	}
	return key, nil
}
