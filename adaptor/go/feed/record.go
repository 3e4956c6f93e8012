// Package feed builds the XML feed files the search appliance accepts:
// metadata-and-url feeds listing document identifiers, and group-definition
// feeds listing group memberships.
package feed

import (
	"time"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/metadata"
	"github.com/gsa-connectors/adaptor/go/skerr"
)

// Action says what the appliance should do with a record.
type Action int

const (
	// Add tells the appliance to (re)crawl the document.
	Add Action = iota
	// Delete tells the appliance to drop the document from its index.
	Delete
)

func (a Action) String() string {
	if a == Delete {
		return "delete"
	}
	return "add"
}

// Record is one entry in a metadata-and-url feed. It is a value; do not
// mutate after handing it to a pusher.
type Record struct {
	// DocId identifies the document. Required.
	DocId docid.DocId

	// LastModified is the document's modification time; the zero value means
	// unknown and is omitted from the feed.
	LastModified time.Time

	// DisplayURL is shown to search users instead of the crawled URL.
	DisplayURL string

	// Action is Add or Delete.
	Action Action

	// CrawlImmediately asks the appliance to jump the crawl queue.
	CrawlImmediately bool

	// CrawlOnce asks the appliance to never recrawl.
	CrawlOnce bool

	// Lock protects the document from license-limit eviction.
	Lock bool

	// NoFollow asks the appliance not to follow links found in the document.
	NoFollow bool

	// Metadata is attached to the record as <meta> elements. Optional.
	Metadata *metadata.Metadata

	// Acl, when non-nil, is emitted alongside the record as an <acl>
	// element.
	Acl *acl.Acl
}

// Validate returns an error if the record cannot be emitted.
func (r Record) Validate() error {
	if r.DocId == "" {
		return skerr.Fmt("record requires a DocId")
	}
	return nil
}
