// Package acl implements the immutable access-control-list value, the four
// inheritance rules, and the deterministic evaluator over parent-to-child
// ACL chains.
package acl

import (
	"strings"

	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/skerr"
)

// Decision is an authorization status.
type Decision int

const (
	// Indeterminate means this ACL chain neither permits nor denies; some
	// other mechanism must decide.
	Indeterminate Decision = iota
	Permit
	Deny
)

func (d Decision) String() string {
	switch d {
	case Permit:
		return "PERMIT"
	case Deny:
		return "DENY"
	default:
		return "INDETERMINATE"
	}
}

// InheritanceType selects how a document's own decision combines with the
// decision inherited from its parent.
type InheritanceType int

const (
	// ChildOverrides uses the child's decision unless the child is
	// indeterminate, in which case the parent decides.
	ChildOverrides InheritanceType = iota
	// ParentOverrides uses the parent's decision unless the parent is
	// indeterminate, in which case the child decides.
	ParentOverrides
	// AndBothPermit permits only when both parent and child permit.
	AndBothPermit
	// LeafNode refuses to pass any decision to children; a chain through a
	// LeafNode is broken.
	LeafNode
)

// String returns the attribute value used in feed XML.
func (t InheritanceType) String() string {
	switch t {
	case ParentOverrides:
		return "parent-overrides"
	case AndBothPermit:
		return "and-both-permit"
	case LeafNode:
		return "leaf-node"
	default:
		return "child-overrides"
	}
}

// ParseInheritanceType is the inverse of InheritanceType.String.
func ParseInheritanceType(s string) (InheritanceType, error) {
	switch s {
	case "child-overrides":
		return ChildOverrides, nil
	case "parent-overrides":
		return ParentOverrides, nil
	case "and-both-permit":
		return AndBothPermit, nil
	case "leaf-node":
		return LeafNode, nil
	}
	return ChildOverrides, skerr.Fmt("unknown inheritance type %q", s)
}

// combine applies the inheritance rule to the child's non-local decision and
// the parent's local decision.
func (t InheritanceType) combine(child, parent Decision) Decision {
	switch t {
	case ChildOverrides:
		if child != Indeterminate {
			return child
		}
		return parent
	case ParentOverrides:
		if parent != Indeterminate {
			return parent
		}
		return child
	case AndBothPermit:
		if child == Permit && parent == Permit {
			return Permit
		}
		return Deny
	default: // LeafNode
		return Deny
	}
}

// InheritFrom names the parent a document inherits permissions from. The
// optional Fragment addresses a named resource within the parent document.
type InheritFrom struct {
	DocId    docid.DocId
	Fragment string
}

// Acl is an immutable access control list. Construct with a Builder; the
// zero value is the empty ACL.
type Acl struct {
	permitUsers   []principal.Principal
	denyUsers     []principal.Principal
	permitGroups  []principal.Principal
	denyGroups    []principal.Principal
	inheritFrom   InheritFrom
	hasInherit    bool
	inheritType   InheritanceType
	caseSensitive bool
}

// Empty is the ACL with no members, no parent, and default inheritance. A
// document whose entire chain is just Empty is treated as having no ACLs at
// all.
var Empty = Acl{caseSensitive: true}

// Builder assembles an Acl.
type Builder struct {
	acl Acl
	err error
}

// NewBuilder returns a Builder for a case-sensitive ACL with
// ChildOverrides inheritance.
func NewBuilder() *Builder {
	return &Builder{acl: Acl{caseSensitive: true}}
}

// BuilderFrom returns a Builder pre-populated with a copy of the given ACL.
func BuilderFrom(a Acl) *Builder {
	return &Builder{acl: a}
}

func (b *Builder) setMembers(dst *[]principal.Principal, kind principal.Kind, ps []principal.Principal) *Builder {
	if b.err != nil {
		return b
	}
	for _, p := range ps {
		if p.Name == "" || strings.TrimSpace(p.Name) != p.Name {
			b.err = skerr.Fmt("ACL member %q must be non-empty and not surrounded by whitespace", p.Name)
			return b
		}
		if p.Kind != kind {
			b.err = skerr.Fmt("ACL member %q has kind %s, want %s", p.Name, p.Kind, kind)
			return b
		}
	}
	cp := make([]principal.Principal, len(ps))
	copy(cp, ps)
	principal.Sort(cp)
	*dst = cp
	return b
}

// PermitUsers sets the users the ACL permits.
func (b *Builder) PermitUsers(ps []principal.Principal) *Builder {
	return b.setMembers(&b.acl.permitUsers, principal.User, ps)
}

// DenyUsers sets the users the ACL denies.
func (b *Builder) DenyUsers(ps []principal.Principal) *Builder {
	return b.setMembers(&b.acl.denyUsers, principal.User, ps)
}

// PermitGroups sets the groups the ACL permits.
func (b *Builder) PermitGroups(ps []principal.Principal) *Builder {
	return b.setMembers(&b.acl.permitGroups, principal.Group, ps)
}

// DenyGroups sets the groups the ACL denies.
func (b *Builder) DenyGroups(ps []principal.Principal) *Builder {
	return b.setMembers(&b.acl.denyGroups, principal.Group, ps)
}

// InheritFrom sets the parent document.
func (b *Builder) InheritFrom(id docid.DocId) *Builder {
	return b.InheritFromWithFragment(id, "")
}

// InheritFromWithFragment sets the parent document plus the named resource
// within it.
func (b *Builder) InheritFromWithFragment(id docid.DocId, fragment string) *Builder {
	b.acl.inheritFrom = InheritFrom{DocId: id, Fragment: fragment}
	b.acl.hasInherit = true
	return b
}

// InheritanceType sets how children combine with this ACL.
func (b *Builder) InheritanceType(t InheritanceType) *Builder {
	b.acl.inheritType = t
	return b
}

// CaseSensitive makes member comparison exact (the default).
func (b *Builder) CaseSensitive() *Builder {
	b.acl.caseSensitive = true
	return b
}

// CaseInsensitive makes member comparison ignore case of namespace, domain,
// and plain name.
func (b *Builder) CaseInsensitive() *Builder {
	b.acl.caseSensitive = false
	return b
}

// Build returns the assembled ACL, or an error if any member was invalid.
func (b *Builder) Build() (Acl, error) {
	if b.err != nil {
		return Acl{}, b.err
	}
	return b.acl, nil
}

// MustBuild is Build for ACLs known valid at compile time; it panics on
// error.
func (b *Builder) MustBuild() Acl {
	a, err := b.Build()
	if err != nil {
		panic(err)
	}
	return a
}

// PermitUsers returns the permitted users, sorted.
func (a Acl) PermitUsers() []principal.Principal { return copyPrincipals(a.permitUsers) }

// DenyUsers returns the denied users, sorted.
func (a Acl) DenyUsers() []principal.Principal { return copyPrincipals(a.denyUsers) }

// PermitGroups returns the permitted groups, sorted.
func (a Acl) PermitGroups() []principal.Principal { return copyPrincipals(a.permitGroups) }

// DenyGroups returns the denied groups, sorted.
func (a Acl) DenyGroups() []principal.Principal { return copyPrincipals(a.denyGroups) }

// InheritFrom returns the parent reference; ok is false if the ACL has no
// parent.
func (a Acl) InheritFrom() (InheritFrom, bool) {
	return a.inheritFrom, a.hasInherit
}

// InheritanceType returns the ACL's inheritance rule.
func (a Acl) InheritanceType() InheritanceType { return a.inheritType }

// IsCaseSensitive reports whether member comparison is exact.
func (a Acl) IsCaseSensitive() bool { return a.caseSensitive }

// IsEmpty reports whether the ACL has no members and no parent.
func (a Acl) IsEmpty() bool {
	return len(a.permitUsers) == 0 && len(a.denyUsers) == 0 &&
		len(a.permitGroups) == 0 && len(a.denyGroups) == 0 && !a.hasInherit
}

func copyPrincipals(ps []principal.Principal) []principal.Principal {
	ret := make([]principal.Principal, len(ps))
	copy(ret, ps)
	return ret
}

// key returns the identity key of p under the ACL's case sensitivity.
func (a Acl) key(p principal.Principal) principal.Key {
	if a.caseSensitive {
		return p.Key()
	}
	return p.CaseInsensitiveKey()
}

func (a Acl) keySet(ps []principal.Principal) map[principal.Key]bool {
	ret := make(map[principal.Key]bool, len(ps))
	for _, p := range ps {
		ret[a.key(p)] = true
	}
	return ret
}

// Equal reports whether two ACLs are equal: same members (under each ACL's
// case sensitivity, which must match), same parent, same inheritance rule.
func (a Acl) Equal(other Acl) bool {
	if a.caseSensitive != other.caseSensitive ||
		a.inheritType != other.inheritType ||
		a.hasInherit != other.hasInherit ||
		a.inheritFrom != other.inheritFrom {
		return false
	}
	eq := func(x, y []principal.Principal) bool {
		if len(x) != len(y) {
			return false
		}
		ys := a.keySet(y)
		for _, p := range x {
			if !ys[a.key(p)] {
				return false
			}
		}
		return true
	}
	return eq(a.permitUsers, other.permitUsers) &&
		eq(a.denyUsers, other.denyUsers) &&
		eq(a.permitGroups, other.permitGroups) &&
		eq(a.denyGroups, other.denyGroups)
}
