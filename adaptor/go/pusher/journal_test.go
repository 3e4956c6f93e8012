package pusher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/go/metrics2"
)

func TestJournal_SlidingWindows(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	j := newJournal(metrics2.NewMuteClient(), func() time.Time { return now })

	j.RecordRequest("a", true, 5*time.Millisecond)
	now = now.Add(30 * time.Second)
	j.RecordRequest("b", false, 5*time.Millisecond)

	snap := j.Snapshot()
	require.Equal(t, 2, snap.RequestsLastMinute)
	require.Equal(t, 2, snap.RequestsLastHour)
	require.Equal(t, int64(2), snap.TotalRequests)
	require.Equal(t, int64(1), snap.ApplianceRequests)
	require.Equal(t, int64(2), snap.UniqueRequests)

	// The first request ages out of the minute window but not the hour.
	now = now.Add(45 * time.Second)
	snap = j.Snapshot()
	require.Equal(t, 1, snap.RequestsLastMinute)
	require.Equal(t, 2, snap.RequestsLastHour)

	now = now.Add(25 * time.Hour)
	snap = j.Snapshot()
	require.Equal(t, 0, snap.RequestsLastMinute)
	require.Equal(t, 0, snap.RequestsLastHour)
	require.Equal(t, 0, snap.RequestsLastDay)
	require.Equal(t, int64(2), snap.TotalRequests)
}

func TestJournal_UniqueRequestIds(t *testing.T) {
	now := time.Now()
	j := newJournal(metrics2.NewMuteClient(), func() time.Time { return now })
	for i := 0; i < 5; i++ {
		j.RecordRequest(docid.DocId("same"), false, time.Millisecond)
	}
	snap := j.Snapshot()
	require.Equal(t, int64(5), snap.TotalRequests)
	require.Equal(t, int64(1), snap.UniqueRequests)
}

func TestJournal_PushStatus(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	j := newJournal(metrics2.NewMuteClient(), func() time.Time { return now })

	require.Equal(t, "NONE", j.Snapshot().LastPushStatus)

	j.RecordPushStarted()
	now = now.Add(time.Minute)
	j.RecordPushSuccessful([]docid.DocId{"a", "b"})
	snap := j.Snapshot()
	require.Equal(t, "SUCCESS", snap.LastPushStatus)
	require.Equal(t, snap.LastPushStart, snap.LastSuccessfulPushStart)
	require.Equal(t, time.Minute, snap.LastSuccessfulPushEnd.Sub(snap.LastSuccessfulPushStart))

	j.RecordPushStarted()
	j.RecordPushInterrupted()
	snap = j.Snapshot()
	require.Equal(t, "INTERRUPTION", snap.LastPushStatus)
	// The successful timestamps are untouched.
	require.Equal(t, time.Minute, snap.LastSuccessfulPushEnd.Sub(snap.LastSuccessfulPushStart))

	j.RecordPushFailed()
	require.Equal(t, "FAILURE", j.Snapshot().LastPushStatus)
}
