package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsa-connectors/adaptor/go/cleanup"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("03:00:00")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 3}, tod)
	require.Equal(t, "03:00:00", tod.String())

	tod, err = ParseTimeOfDay("23:59:59")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 23, Minute: 59, Second: 59}, tod)

	// A single-digit hour is accepted.
	tod, err = ParseTimeOfDay("7:30:00")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 7, Minute: 30}, tod)

	for _, bad := range []string{"", "24:00:00", "12:60:00", "12:00:60", "12:00", "noon", "12:0:0"} {
		_, err := ParseTimeOfDay(bad)
		require.Error(t, err, bad)
	}
}

func TestTimeOfDay_Next(t *testing.T) {
	tod := TimeOfDay{Hour: 3}
	now := time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC), tod.Next(now))

	// Already past today's trigger: tomorrow.
	now = time.Date(2026, time.March, 1, 4, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC), tod.Next(now))

	// Exactly at the trigger: tomorrow, never now.
	now = time.Date(2026, time.March, 1, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.March, 2, 3, 0, 0, 0, time.UTC), tod.Next(now))
}

func TestScheduler_Daily(t *testing.T) {
	s := New()
	defer s.Stop()

	// Pin the clock just before the trigger so the first run happens almost
	// immediately.
	now := time.Date(2026, time.March, 1, 2, 59, 59, int(time.Second-50*time.Millisecond), time.UTC)
	s.now = func() time.Time { return now }

	var runs int32
	ran := make(chan bool, 10)
	s.Daily("full push", TimeOfDay{Hour: 3}, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
		ran <- true
	})
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("daily task did not run")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(1))
}

func TestScheduler_Every(t *testing.T) {
	s := New()
	t.Cleanup(cleanup.Cleanup)

	var runs int32
	s.Every("poll", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	})
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 3
	}, 5*time.Second, 5*time.Millisecond)

	s.Stop()
	after := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&runs))
}

func TestScheduler_PanicContained(t *testing.T) {
	s := New()
	t.Cleanup(cleanup.Cleanup)
	defer s.Stop()

	var runs int32
	s.Every("flaky", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
		panic("boom")
	})
	// The panic does not kill the loop.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, 5*time.Second, 5*time.Millisecond)
}
