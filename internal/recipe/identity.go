package recipe

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// LocalPrefix marks identifiers generated on this device. The remote service
// never issues canonical identifiers with this prefix.
const LocalPrefix = "local_"

// localSuffixLen is the number of base36 characters appended after the
// millisecond timestamp of a local identifier.
const localSuffixLen = 9

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Kind tells whether an identifier was assigned locally or by the remote
// service.
type Kind int

const (
	KindLocal Kind = iota
	KindCanonical
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindCanonical:
		return "canonical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "local":
		return KindLocal, nil
	case "canonical":
		return KindCanonical, nil
	default:
		return 0, fmt.Errorf("recipe: unknown identity kind %q", s)
	}
}

// Identity is the tagged identifier of a recipe. A Local identity lives only
// on this device until the first successful push replaces it with a
// Canonical one.
type Identity struct {
	Kind  Kind
	Value string
}

// Local wraps a locally generated identifier.
func Local(id string) Identity { return Identity{Kind: KindLocal, Value: id} }

// Canonical wraps an identifier assigned by the remote service.
func Canonical(id string) Identity { return Identity{Kind: KindCanonical, Value: id} }

func (i Identity) IsLocal() bool { return i.Kind == KindLocal }

func (i Identity) IsZero() bool { return i.Value == "" }

func (i Identity) String() string { return i.Value }

// HasLocalPrefix reports whether id carries the reserved local prefix.
func HasLocalPrefix(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// ValidateCanonical rejects identifiers the remote service must never issue.
func ValidateCanonical(id string) error {
	if id == "" {
		return fmt.Errorf("recipe: empty canonical id: %w", ErrDataIntegrity)
	}

	if HasLocalPrefix(id) {
		return fmt.Errorf("recipe: canonical id %q uses reserved prefix %q: %w", id, LocalPrefix, ErrDataIntegrity)
	}

	return nil
}

// NewLocalID returns local_<unix-ms>_<random base36>. Uniqueness is only
// required within one store; callers retry on collision.
func NewLocalID(now time.Time) (Identity, error) {
	var sb strings.Builder

	sb.WriteString(LocalPrefix)
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('_')

	limit := big.NewInt(int64(len(base36)))

	for range localSuffixLen {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return Identity{}, fmt.Errorf("recipe: generating local id: %w", err)
		}

		sb.WriteByte(base36[n.Int64()])
	}

	return Local(sb.String()), nil
}
