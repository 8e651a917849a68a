package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuerier struct {
	rows     []Entry
	lastCall QueryFilters
}

func (s *stubQuerier) Query(ctx context.Context, f QueryFilters) ([]Entry, error) {
	s.lastCall = f
	if f.Limit < len(s.rows) {
		return s.rows[:f.Limit], nil
	}
	return s.rows, nil
}

func entryAt(ts string, status Status) Entry {
	t, _ := time.Parse(time.RFC3339, ts)
	return Entry{At: t, UserID: "dev", Tool: "execute_code", Action: "invoke", Status: status}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubQuerier{rows: []Entry{
		entryAt("2026-08-10T10:00:00Z", StatusSuccess),
		entryAt("2026-08-09T09:00:00Z", StatusDenied),
		entryAt("2026-08-08T08:00:00Z", StatusTimeout),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 3, repo.lastCall.Limit)
	assert.Equal(t, 0, repo.lastCall.Offset)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubQuerier{}
	svc := NewService(repo)

	_, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 10_000})
	require.NoError(t, err)
	assert.Equal(t, 101, repo.lastCall.Limit)

	_, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, 21, repo.lastCall.Limit)
}

func TestTimelinePassesFilters(t *testing.T) {
	repo := &stubQuerier{}
	svc := NewService(repo)
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Timeline(context.Background(), TimelineFilters{
		From: from, UserID: "dev", Tool: "run_shell", Status: "denied",
	})
	require.NoError(t, err)
	assert.Equal(t, from, repo.lastCall.From)
	assert.Equal(t, "dev", repo.lastCall.UserID)
	assert.Equal(t, "run_shell", repo.lastCall.Tool)
	assert.Equal(t, "denied", repo.lastCall.Status)
}
