package observ

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordDurationStoresMillisecondsUnderMsSuffix(t *testing.T) {
	labels := map[string]string{"job": "t1"}
	RecordDuration("test_job_duration", 250*time.Millisecond, labels)

	vals := Observations("test_job_duration_ms", labels)
	require.Len(t, vals, 1)
	require.InDelta(t, 250, vals[0], 1e-9)

	require.Empty(t, Observations("test_job_duration", labels))
}

func TestCounterTotalSumsLabelSets(t *testing.T) {
	IncCounter("test_events_total", map[string]string{"kind": "a"})
	IncCounterBy("test_events_total", map[string]string{"kind": "b"}, 2)
	require.Equal(t, int64(3), CounterTotal("test_events_total"))
}
