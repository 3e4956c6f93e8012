package acl

import (
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/skerr"
)

// Identity is the authenticated caller being authorized: one user plus the
// groups the user belongs to.
type Identity struct {
	User   principal.Principal
	Groups []principal.Principal
}

// NewIdentity returns an Identity for the named user in the default
// namespace with the named groups.
func NewIdentity(user string, groups ...string) (Identity, error) {
	u, err := principal.NewUser(user)
	if err != nil {
		return Identity{}, skerr.Wrap(err)
	}
	gs := make([]principal.Principal, 0, len(groups))
	for _, g := range groups {
		p, err := principal.NewGroup(g)
		if err != nil {
			return Identity{}, skerr.Wrap(err)
		}
		gs = append(gs, p)
	}
	return Identity{User: u, Groups: gs}, nil
}

// IsAuthorizedLocal evaluates just this ACL, ignoring inheritance. Deny
// dominates: a user denied directly or through any group is denied even if
// also permitted.
func (a Acl) IsAuthorizedLocal(identity Identity) Decision {
	userKey := a.key(identity.User)
	if a.keySet(a.denyUsers)[userKey] || a.intersectsGroups(identity.Groups, a.denyGroups) {
		return Deny
	}
	if a.keySet(a.permitUsers)[userKey] || a.intersectsGroups(identity.Groups, a.permitGroups) {
		return Permit
	}
	return Indeterminate
}

func (a Acl) intersectsGroups(identityGroups, members []principal.Principal) bool {
	if len(identityGroups) == 0 || len(members) == 0 {
		return false
	}
	set := a.keySet(members)
	for _, g := range identityGroups {
		if set[a.key(g)] {
			return true
		}
	}
	return false
}

// IsAuthorized evaluates an ACL chain ordered root first, leaf (the
// document itself) last.
//
// Structural preconditions, violations of which return an error: the chain
// is non-empty, the root has no parent, and every non-root element has a
// parent. Two conditions yield Indeterminate without error: a non-leaf
// element with LeafNode inheritance (the chain is broken), and a chain
// consisting of exactly one all-empty ACL (the document has no ACLs at
// all). Any other indeterminate outcome is coerced to Deny.
func IsAuthorized(identity Identity, chain []Acl) (Decision, error) {
	if len(chain) == 0 {
		return Indeterminate, skerr.Fmt("ACL chain must not be empty")
	}
	if _, ok := chain[0].InheritFrom(); ok {
		return Indeterminate, skerr.Fmt("the root of an ACL chain must not inherit from anything")
	}
	for i, a := range chain[1:] {
		if _, ok := a.InheritFrom(); !ok {
			return Indeterminate, skerr.Fmt("chain element %d does not inherit from anything but is not the root", i+1)
		}
	}
	if len(chain) == 1 && chain[0].IsEmpty() {
		// No ACLs at all; not the same as an empty-and-therefore-secret
		// document.
		return Indeterminate, nil
	}
	for _, a := range chain[:len(chain)-1] {
		if a.InheritanceType() == LeafNode {
			// A LeafNode refuses to be inherited from; the chain is broken.
			return Indeterminate, nil
		}
	}
	// Fold from the leaf to the root: each node combines its own local
	// decision with its child's combined decision.
	decision := chain[len(chain)-1].IsAuthorizedLocal(identity)
	for i := len(chain) - 2; i >= 0; i-- {
		decision = chain[i].InheritanceType().combine(decision, chain[i].IsAuthorizedLocal(identity))
	}
	if decision == Indeterminate {
		decision = Deny
	}
	return decision, nil
}
