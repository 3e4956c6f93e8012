// Package app assembles a repository-specific adaptor into a running
// connector: document server, authorization endpoint, feed pusher, scheduler
// and operator dashboard, all driven by one configuration.
package app

import (
	"context"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/config"
	"github.com/gsa-connectors/adaptor/adaptor/go/docserver"
	"github.com/gsa-connectors/adaptor/adaptor/go/feed"
	"github.com/gsa-connectors/adaptor/adaptor/go/feedsender"
	"github.com/gsa-connectors/adaptor/adaptor/go/pusher"
)

// DocIdPusher is how an adaptor hands document listings to the appliance.
// Passing a nil RetryPolicy uses the default exponential backoff.
type DocIdPusher interface {
	// PushRecords sends content records. On an unrecoverable batch failure it
	// returns the first record of the failed batch and a nil error.
	PushRecords(ctx context.Context, records []feed.Record, policy pusher.RetryPolicy) (*feed.Record, error)

	// PushNamedResources sends ACLs that exist apart from any document.
	PushNamedResources(ctx context.Context, resources []feed.NamedResource, policy pusher.RetryPolicy) error

	// PushGroupDefinitions sends group memberships to the named group source.
	PushGroupDefinitions(ctx context.Context, groups feed.GroupDefinitions, caseSensitive bool, feedType feedsender.GroupFeedType, sourceName string, policy pusher.RetryPolicy) error
}

// Context is what an adaptor gets at Init time: its configuration and the
// pusher it may use from then on.
type Context struct {
	Config *config.Config
	Pusher DocIdPusher
}

// Adaptor is the repository-specific part of a connector. Implementations
// serve document content and enumerate document ids; everything else is
// provided by this package.
type Adaptor interface {
	docserver.ContentProvider

	// Init prepares the adaptor, validating its configuration and reaching
	// its repository. A plain error is retried with backoff; wrap it with
	// Unrecoverable to abort startup instead.
	Init(ctx context.Context, appCtx *Context) error

	// GetDocIds pushes a full listing of all document ids.
	GetDocIds(ctx context.Context, p DocIdPusher) error
}

// IncrementalLister is implemented by adaptors that can enumerate just the
// documents changed since the last poll.
type IncrementalLister interface {
	GetModifiedDocIds(ctx context.Context, p DocIdPusher) error
}

// AuthzAuthority is implemented by adaptors that can answer late-binding
// authorization queries; it enables the /authz endpoint.
type AuthzAuthority interface {
	AclRetriever() acl.BatchRetriever
}

// Destroyer is implemented by adaptors holding resources that need explicit
// release at shutdown.
type Destroyer interface {
	Destroy()
}

// StartupError marks an initialization failure as permanent: the retry loop
// gives up and the process exits instead of backing off.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return "unrecoverable startup failure: " + e.Err.Error()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Unrecoverable wraps err so Init's retry loop will not retry it. Returns
// nil for a nil err.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &StartupError{Err: err}
}
