package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeasuredZeroDurationStaysRecorded(t *testing.T) {
	e := Success("dev", "execute_code", 0, nil)
	assert.True(t, e.HasDuration, "a sub-millisecond run is still a measurement")
	assert.Equal(t, int64(0), e.DurationMS)

	col := optionalDuration(e)
	assert.True(t, col.Valid)
	assert.Equal(t, int64(0), col.Int64)
}

func TestUnmeasuredEntriesCarryNoDuration(t *testing.T) {
	for _, e := range []Entry{
		Denied("dev", "execute_code", "permission denied"),
		RateLimited("dev", "execute_code", "rate limit exceeded"),
		ApprovalRequested("dev", "run_shell", "req-1"),
	} {
		assert.False(t, e.HasDuration)
		assert.False(t, optionalDuration(e).Valid)
	}

	for _, e := range []Entry{
		Success("dev", "execute_code", 120*time.Millisecond, nil),
		Errored("dev", "execute_code", "exit code 3", time.Second),
		ExecutionTimeout("dev", "execute_code", 30*time.Second),
	} {
		assert.True(t, e.HasDuration)
	}
}
