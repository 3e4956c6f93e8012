// Package pusher drives the repository-to-appliance data plane: it batches
// identifier records into feed files, submits them with retries, and keeps a
// journal of results.
package pusher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/feed"
	"github.com/gsa-connectors/adaptor/adaptor/go/feedsender"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
	"github.com/gsa-connectors/adaptor/go/timer"
)

// ErrPushInProgress is returned when a push of the same kind is already
// running; the caller should not wait.
var ErrPushInProgress = errors.New("a feed push is already in progress")

// RetryPolicy decides, after a failed batch submission, whether to try the
// batch again and how long to wait first. attempt is 1-origin and resets for
// every batch.
type RetryPolicy func(kind feedsender.ErrorKind, attempt int) (retry bool, wait time.Duration)

// defaultMaxAttempts bounds the default policy; with the default backoff
// settings the final attempt happens roughly ten minutes in.
const defaultMaxAttempts = 10

// DefaultRetryPolicy retries every failure kind with exponential backoff,
// giving up after a fixed number of attempts.
func DefaultRetryPolicy() RetryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return func(kind feedsender.ErrorKind, attempt int) (bool, time.Duration) {
		if attempt >= defaultMaxAttempts {
			return false, 0
		}
		return true, b.NextBackOff()
	}
}

// Options configures a Pusher.
type Options struct {
	// Datasource is the feed source name for content feeds, feed.name in the
	// config.
	Datasource string

	// MaxUrls caps records per feed file; feed.maxUrls in the config.
	MaxUrls int

	// ArchiveDirectory, when set, receives a copy of every feed file sent.
	ArchiveDirectory string

	// FeedRateLimit throttles feed submissions; zero means one per second.
	FeedRateLimit rate.Limit
	// FeedRateBurst is the submission burst size; zero means 1.
	FeedRateBurst int
}

// Pusher submits feeds for one datasource. At most one push of each kind
// (content, named resources, groups) runs at a time process-wide.
type Pusher struct {
	sender  *feedsender.Sender
	maker   *feed.Maker
	journal *Journal

	datasource string
	maxUrls    int
	archiveDir string
	limiter    *rate.Limiter

	contentFlight   sync.Mutex
	resourcesFlight sync.Mutex
	groupsFlight    sync.Mutex
}

// New returns a Pusher submitting through sender.
func New(sender *feedsender.Sender, maker *feed.Maker, journal *Journal, opts Options) (*Pusher, error) {
	if !feedsender.ValidDatasource(opts.Datasource) {
		return nil, skerr.Fmt("invalid datasource name %q", opts.Datasource)
	}
	if opts.MaxUrls <= 0 {
		opts.MaxUrls = 500
	}
	if opts.FeedRateLimit == 0 {
		opts.FeedRateLimit = rate.Every(time.Second)
	}
	if opts.FeedRateBurst <= 0 {
		opts.FeedRateBurst = 1
	}
	return &Pusher{
		sender:     sender,
		maker:      maker,
		journal:    journal,
		datasource: opts.Datasource,
		maxUrls:    opts.MaxUrls,
		archiveDir: opts.ArchiveDirectory,
		limiter:    rate.NewLimiter(opts.FeedRateLimit, opts.FeedRateBurst),
	}, nil
}

// archive writes a copy of the feed file for later inspection.
func (p *Pusher) archive(source, feedXML string) {
	if p.archiveDir == "" {
		return
	}
	name := fmt.Sprintf("%s-%s.xml", source, uuid.New())
	if err := os.WriteFile(filepath.Join(p.archiveDir, name), []byte(feedXML), 0644); err != nil {
		sklog.Warningf("Failed to archive feed file %s: %s", name, err)
	}
}

// sendWithRetries submits one feed file, consulting the retry policy after
// each failure. Returns nil once the appliance accepts the feed.
func (p *Pusher) sendWithRetries(ctx context.Context, policy RetryPolicy, send func(context.Context) error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	for attempt := 1; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return skerr.Wrap(err)
		}
		err := send(ctx)
		if err == nil {
			return nil
		}
		kind := feedsender.FailedWriting
		var sendErr *feedsender.Error
		if errors.As(err, &sendErr) {
			kind = sendErr.Kind
		}
		retry, wait := policy(kind, attempt)
		if !retry {
			return skerr.Wrapf(err, "giving up after %d attempts", attempt)
		}
		sklog.Warningf("Feed submission attempt %d failed (%s); retrying in %s: %s", attempt, kind, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return skerr.Wrap(ctx.Err())
		}
	}
}

// batchBounds yields [start, end) slices of at most maxUrls items.
func batchBounds(n, maxUrls int) [][2]int {
	var ret [][2]int
	for start := 0; start < n; start += maxUrls {
		end := start + maxUrls
		if end > n {
			end = n
		}
		ret = append(ret, [2]int{start, end})
	}
	return ret
}

// PushRecords submits the records in order, in batches of at most maxUrls.
// On success the returned record is nil. When a batch is rejected and
// retries are exhausted, the first record of the failed batch is returned
// and later batches are not attempted. ErrPushInProgress is returned without
// waiting when a content push is already running.
func (p *Pusher) PushRecords(ctx context.Context, records []feed.Record, policy RetryPolicy) (*feed.Record, error) {
	if !p.contentFlight.TryLock() {
		return nil, ErrPushInProgress
	}
	defer p.contentFlight.Unlock()
	defer timer.New("push records").Stop()

	p.journal.RecordPushStarted()
	for _, b := range batchBounds(len(records), p.maxUrls) {
		batch := records[b[0]:b[1]]
		feedXML, err := p.maker.MakeMetadataAndURLFeed(p.datasource, batch)
		if err != nil {
			p.journal.RecordPushInterrupted()
			return nil, skerr.Wrap(err)
		}
		p.archive(p.datasource, feedXML)
		err = p.sendWithRetries(ctx, policy, func(ctx context.Context) error {
			return p.sender.SendMetadataAndURL(ctx, p.datasource, feedXML)
		})
		if err != nil {
			if ctx.Err() != nil {
				p.journal.RecordPushInterrupted()
				return nil, skerr.Wrap(err)
			}
			p.journal.RecordPushFailed()
			sklog.Errorf("Push of %d records to %s failed: %s", len(batch), p.datasource, err)
			failed := batch[0]
			return &failed, nil
		}
	}
	ids := make([]docid.DocId, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.DocId)
	}
	p.journal.RecordPushSuccessful(ids)
	sklog.Infof("Pushed %d records to %s in %d feeds", len(records), p.datasource, len(batchBounds(len(records), p.maxUrls)))
	return nil, nil
}

// PushNamedResources submits ACLs stored under their own identifiers.
func (p *Pusher) PushNamedResources(ctx context.Context, resources []feed.NamedResource, policy RetryPolicy) error {
	if !p.resourcesFlight.TryLock() {
		return ErrPushInProgress
	}
	defer p.resourcesFlight.Unlock()

	for _, b := range batchBounds(len(resources), p.maxUrls) {
		batch := resources[b[0]:b[1]]
		feedXML, err := p.maker.MakeNamedResourcesFeed(p.datasource, batch)
		if err != nil {
			return skerr.Wrap(err)
		}
		p.archive(p.datasource, feedXML)
		err = p.sendWithRetries(ctx, policy, func(ctx context.Context) error {
			return p.sender.SendMetadataAndURL(ctx, p.datasource, feedXML)
		})
		if err != nil {
			return skerr.Wrapf(err, "pushing %d named resources", len(batch))
		}
	}
	return nil
}

func sortedGroups(groups feed.GroupDefinitions) []principal.Principal {
	keys := make([]principal.Principal, 0, len(groups))
	for g := range groups {
		keys = append(keys, g)
	}
	principal.Sort(keys)
	return keys
}

// PushGroupDefinitions submits group memberships under sourceName. Replace
// clears the source's previously fed groups; Incremental merges. Groups are
// batched by group count in sorted order.
func (p *Pusher) PushGroupDefinitions(ctx context.Context, groups feed.GroupDefinitions, caseSensitive bool, feedType feedsender.GroupFeedType, sourceName string, policy RetryPolicy) error {
	if !p.groupsFlight.TryLock() {
		return ErrPushInProgress
	}
	defer p.groupsFlight.Unlock()

	if !feedsender.ValidDatasource(sourceName) {
		return skerr.Fmt("invalid group source name %q", sourceName)
	}

	keys := sortedGroups(groups)
	batches := batchBounds(len(keys), p.maxUrls)
	for i, b := range batches {
		batch := feed.GroupDefinitions{}
		for _, g := range keys[b[0]:b[1]] {
			batch[g] = groups[g]
		}
		feedXML, err := p.maker.MakeGroupDefinitionsFeed(batch, caseSensitive)
		if err != nil {
			return skerr.Wrap(err)
		}
		p.archive(sourceName, feedXML)
		// A Replace push only replaces on its first feed; the rest of the
		// batches must merge into it.
		batchType := feedType
		if feedType == feedsender.Replace && i > 0 {
			batchType = feedsender.Incremental
		}
		err = p.sendWithRetries(ctx, policy, func(ctx context.Context) error {
			return p.sender.SendGroups(ctx, sourceName, batchType, feedXML)
		})
		if err != nil {
			return skerr.Wrapf(err, "pushing group definitions batch %d", i+1)
		}
	}
	sklog.Infof("Pushed %d groups to %s (%s)", len(keys), sourceName, feedType)
	return nil
}
