package acl

import (
	"context"

	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
)

// BatchRetriever fetches ACLs for documents. The evaluator batches its
// lookups: all unresolved parents across all chains are requested in a
// single call per chain depth. A retriever may return fewer entries than
// requested; missing entries mean the document (or its ACL) does not exist.
type BatchRetriever interface {
	RetrieveAcls(ctx context.Context, ids []docid.DocId) (map[docid.DocId]Acl, error)
}

// BatchRetrieverFunc adapts a function to the BatchRetriever interface.
type BatchRetrieverFunc func(ctx context.Context, ids []docid.DocId) (map[docid.DocId]Acl, error)

// RetrieveAcls implements BatchRetriever.
func (f BatchRetrieverFunc) RetrieveAcls(ctx context.Context, ids []docid.DocId) (map[docid.DocId]Acl, error) {
	return f(ctx, ids)
}

// chainState tracks one requested document's partially materialized chain,
// built leaf first.
type chainState struct {
	id docid.DocId
	// reversed holds leaf..root-so-far.
	reversed []Acl
	// visited guards against inheritance cycles. Keys include the fragment
	// so distinct named resources in one document stay distinct.
	visited map[InheritFrom]bool
	// next is the parent still to fetch.
	next InheritFrom
	// done is set once the chain is complete or known broken.
	done bool
	// broken is set when the chain hit a cycle or a missing ACL.
	broken bool
}

// IsAuthorizedBatch authorizes one identity against many documents at once.
//
// The ACL for every requested id is fetched first, then the parents named
// by the fetched ACLs, and so on, with duplicate parent lookups coalesced
// across chains. A missing ACL anywhere along a chain, or a cycle (an ACL
// re-appearing along its own chain), yields Indeterminate for that id and
// is logged. The returned map contains an entry for every input id; treat
// it as immutable.
func IsAuthorizedBatch(ctx context.Context, identity Identity, ids []docid.DocId, retriever BatchRetriever) (map[docid.DocId]Decision, error) {
	result := make(map[docid.DocId]Decision, len(ids))
	// Fetch the leaf ACLs.
	leafIds := make([]docid.DocId, 0, len(ids))
	seen := map[docid.DocId]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			leafIds = append(leafIds, id)
		}
	}
	known, err := retriever.RetrieveAcls(ctx, leafIds)
	if err != nil {
		return nil, skerr.Wrapf(err, "retrieving ACLs for %d documents", len(leafIds))
	}

	states := make([]*chainState, 0, len(leafIds))
	for _, id := range leafIds {
		st := &chainState{
			id:      id,
			visited: map[InheritFrom]bool{{DocId: id}: true},
		}
		a, ok := known[id]
		if !ok {
			sklog.Warningf("No ACL for document %q; authorization is indeterminate", id)
			st.done, st.broken = true, true
		} else {
			st.reversed = append(st.reversed, a)
			st.advance(a)
		}
		states = append(states, st)
	}

	// Walk up the chains, one batched fetch per level.
	for {
		want := map[docid.DocId]bool{}
		for _, st := range states {
			if !st.done {
				if _, ok := known[st.next.DocId]; !ok {
					want[st.next.DocId] = true
				}
			}
		}
		pending := false
		for _, st := range states {
			if !st.done {
				pending = true
			}
		}
		if !pending {
			break
		}
		if len(want) > 0 {
			fetch := make([]docid.DocId, 0, len(want))
			for id := range want {
				fetch = append(fetch, id)
			}
			fetched, err := retriever.RetrieveAcls(ctx, fetch)
			if err != nil {
				return nil, skerr.Wrapf(err, "retrieving parent ACLs for %d documents", len(fetch))
			}
			for id, a := range fetched {
				known[id] = a
			}
		}
		for _, st := range states {
			if st.done {
				continue
			}
			a, ok := known[st.next.DocId]
			if !ok {
				sklog.Warningf("Missing ACL for %q while resolving the chain of %q; authorization is indeterminate", st.next.DocId, st.id)
				st.done, st.broken = true, true
				continue
			}
			st.reversed = append(st.reversed, a)
			st.advance(a)
		}
	}

	for _, st := range states {
		if st.broken {
			result[st.id] = Indeterminate
			continue
		}
		// reversed is leaf..root; IsAuthorized wants root..leaf.
		chain := make([]Acl, len(st.reversed))
		for i, a := range st.reversed {
			chain[len(chain)-1-i] = a
		}
		decision, err := IsAuthorized(identity, chain)
		if err != nil {
			sklog.Errorf("Invalid ACL chain for %q: %s", st.id, err)
			decision = Indeterminate
		}
		result[st.id] = decision
	}
	return result, nil
}

// advance records the parent a requires next, or marks the chain complete.
// Cycles mark the chain broken.
func (st *chainState) advance(a Acl) {
	parent, ok := a.InheritFrom()
	if !ok {
		st.done = true
		return
	}
	if st.visited[parent] {
		sklog.Warningf("ACL inheritance cycle at %q while resolving the chain of %q; authorization is indeterminate", parent.DocId, st.id)
		st.done, st.broken = true, true
		return
	}
	st.visited[parent] = true
	st.next = parent
}
