// Package principal models the users and groups that appear in ACLs and
// group-definition feeds.
//
// A principal's name may embed a domain qualifier in one of four formats:
// bare ("jdoe"), DNS ("jdoe@corp.example.com"), NETBIOS ("CORP\jdoe"), or
// NETBIOS with a forward slash ("CORP/jdoe"). Equality, hashing, and
// ordering always compare the parsed (name, domain) tuple, never the raw
// string, so "CORP\\jdoe" and "jdoe@corp" are the same principal when they
// parse to the same tuple in the same namespace.
package principal

import (
	"sort"
	"strings"

	"github.com/gsa-connectors/adaptor/go/skerr"
)

// DefaultNamespace is the namespace assigned when none is specified.
const DefaultNamespace = "Default"

// Kind distinguishes users from groups.
type Kind int

const (
	User Kind = iota
	Group
)

func (k Kind) String() string {
	if k == Group {
		return "group"
	}
	return "user"
}

// DomainFormat is the syntax used to embed a domain in a principal name.
type DomainFormat int

const (
	// None means the name carries no domain.
	None DomainFormat = iota
	// DNS is "name@domain".
	DNS
	// Netbios is "domain\name".
	Netbios
	// NetbiosForwardSlash is "domain/name".
	NetbiosForwardSlash
)

// Principal is a user or group reference. It is a value type; construct with
// New, NewUser, or NewGroup and never mutate.
type Principal struct {
	// Name is the raw, possibly domain-qualified name. Always trimmed and
	// non-empty.
	Name string
	// Namespace scopes the name. Defaults to DefaultNamespace.
	Namespace string
	// Kind is User or Group.
	Kind Kind
}

// New returns a Principal with the given kind, name and namespace. The name
// must be non-empty and must not be surrounded by whitespace.
func New(kind Kind, name, namespace string) (Principal, error) {
	if name == "" {
		return Principal{}, skerr.Fmt("principal name must not be empty")
	}
	if strings.TrimSpace(name) != name {
		return Principal{}, skerr.Fmt("principal name %q must not be surrounded by whitespace", name)
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Principal{
		Name:      name,
		Namespace: namespace,
		Kind:      kind,
	}, nil
}

// NewUser returns a user Principal in the default namespace.
func NewUser(name string) (Principal, error) {
	return New(User, name, "")
}

// NewGroup returns a group Principal in the default namespace.
func NewGroup(name string) (Principal, error) {
	return New(Group, name, "")
}

// IsGroup reports whether the principal is a group.
func (p Principal) IsGroup() bool {
	return p.Kind == Group
}

// Parsed is the split form of a Principal: the plain name with its domain
// separated out and the format remembered, so the original string can be
// reconstructed exactly.
type Parsed struct {
	Kind      Kind
	PlainName string
	Domain    string
	Format    DomainFormat
	Namespace string
}

// Parse splits the principal's name into plain name and domain.
//
// The first of '\', '/', '@' found in the name decides the format; a name
// with none of them has no domain. Round-trip invariant:
// p.Parse().Principal() == p.
func (p Principal) Parse() Parsed {
	parsed := Parsed{
		Kind:      p.Kind,
		Namespace: p.Namespace,
		PlainName: p.Name,
		Format:    None,
	}
	for i := 0; i < len(p.Name); i++ {
		switch p.Name[i] {
		case '\\':
			parsed.Domain = p.Name[:i]
			parsed.PlainName = p.Name[i+1:]
			parsed.Format = Netbios
			return parsed
		case '/':
			parsed.Domain = p.Name[:i]
			parsed.PlainName = p.Name[i+1:]
			parsed.Format = NetbiosForwardSlash
			return parsed
		case '@':
			parsed.PlainName = p.Name[:i]
			parsed.Domain = p.Name[i+1:]
			parsed.Format = DNS
			return parsed
		}
	}
	return parsed
}

// Principal reconstructs the Principal this Parsed was split from.
func (pp Parsed) Principal() Principal {
	name := pp.PlainName
	switch pp.Format {
	case DNS:
		name = pp.PlainName + "@" + pp.Domain
	case Netbios:
		name = pp.Domain + "\\" + pp.PlainName
	case NetbiosForwardSlash:
		name = pp.Domain + "/" + pp.PlainName
	}
	return Principal{
		Name:      name,
		Namespace: pp.Namespace,
		Kind:      pp.Kind,
	}
}

// Key is the identity of a principal: domain format is ignored, case is
// preserved. Two principals with equal Keys are the same principal.
type Key struct {
	Kind      Kind
	Namespace string
	Domain    string
	PlainName string
}

// Key returns the principal's identity key.
func (p Principal) Key() Key {
	parsed := p.Parse()
	return Key{
		Kind:      parsed.Kind,
		Namespace: parsed.Namespace,
		Domain:    parsed.Domain,
		PlainName: parsed.PlainName,
	}
}

// CaseInsensitiveKey returns the identity key with namespace, domain, and
// plain name lowercased, for use by case-insensitive ACLs.
func (p Principal) CaseInsensitiveKey() Key {
	k := p.Key()
	return Key{
		Kind:      k.Kind,
		Namespace: strings.ToLower(k.Namespace),
		Domain:    strings.ToLower(k.Domain),
		PlainName: strings.ToLower(k.PlainName),
	}
}

// Equal reports whether two principals are the same principal, i.e. their
// parsed tuples match. "DOMAIN\\u" equals "u@DOMAIN".
func (p Principal) Equal(other Principal) bool {
	return p.Key() == other.Key()
}

// Less orders principals by (kind, namespace, domain, plain name) of the
// parsed form, giving a deterministic order for feed emission.
func (p Principal) Less(other Principal) bool {
	a, b := p.Key(), other.Key()
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	if a.Domain != b.Domain {
		return a.Domain < b.Domain
	}
	return a.PlainName < b.PlainName
}

// Sort sorts the principals in place using Less.
func Sort(ps []Principal) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].Less(ps[j])
	})
}
