package redeemkey

import "fmt"

type OwnerKind uint8

const (
	OwnerUnbound OwnerKind = iota
	OwnerWildcard
	OwnerIdentity
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerUnbound:
		return "unbound"
	case OwnerWildcard:
		return "wildcard"
	case OwnerIdentity:
		return "identity"
	default:
		return fmt.Sprintf("OwnerKind(%d)", uint8(k))
	}
}

// ParseOwnerKind is the inverse of OwnerKind.String.
func ParseOwnerKind(s string) (OwnerKind, error) {
	switch s {
	case "unbound":
		return OwnerUnbound, nil
	case "wildcard":
		return OwnerWildcard, nil
	case "identity":
		return OwnerIdentity, nil
	default:
		return 0, fmt.Errorf("unknown owner kind %q", s)
	}
}

// Owner is the binding state of a key. The zero value is Unbound.
type Owner struct {
	kind     OwnerKind
	identity string
}

func Unbound() Owner  { return Owner{kind: OwnerUnbound} }
func Wildcard() Owner { return Owner{kind: OwnerWildcard} }

// Identity binds to a specific player. An empty id yields Unbound.
func Identity(id string) Owner {
	if id == "" {
		return Unbound()
	}
	return Owner{kind: OwnerIdentity, identity: id}
}

func (o Owner) Kind() OwnerKind { return o.kind }
func (o Owner) IsUnbound() bool { return o.kind == OwnerUnbound }
func (o Owner) IsWildcard() bool { return o.kind == OwnerWildcard }
func (o Owner) IsIdentity() bool { return o.kind == OwnerIdentity }
func (o Owner) IdentityID() string { return o.identity }

// Admits reports whether the owner grants the key to player, ignoring expiry.
func (o Owner) Admits(player string) bool {
	switch o.kind {
	case OwnerWildcard:
		return true
	case OwnerIdentity:
		return o.identity == player
	default:
		return false
	}
}

func (o Owner) String() string {
	if o.kind == OwnerIdentity {
		return "identity:" + o.identity
	}
	return o.kind.String()
}

// Sentinels maps owners to the flat string stored in the owner field and
// rendered to clients: the player id itself, or one of two reserved values.
type Sentinels struct {
	Unbound  string
	Wildcard string
}

func (s Sentinels) Format(o Owner) string {
	switch o.kind {
	case OwnerWildcard:
		return s.Wildcard
	case OwnerIdentity:
		return o.identity
	default:
		return s.Unbound
	}
}

// Parse decodes a stored owner string. Empty values decode as Unbound.
func (s Sentinels) Parse(v string) Owner {
	switch v {
	case "", s.Unbound:
		return Unbound()
	case s.Wildcard:
		return Wildcard()
	default:
		return Identity(v)
	}
}

// Reserved reports whether v collides with a sentinel and so cannot be used
// as a player id.
func (s Sentinels) Reserved(v string) bool {
	return v == s.Unbound || v == s.Wildcard
}
