package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodOf_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 本地 7 月 1 日 02:00 对应 UTC 6 月 30 日
	d := time.Date(2025, time.July, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, Period{Year: 2025, Month: 6}, PeriodOf(d))
}

func TestPeriod_Bounds(t *testing.T) {
	p := Period{Year: 2025, Month: 12}
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), p.Start())
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.End())
	assert.Equal(t, Period{Year: 2026, Month: 1}, p.Next())
	assert.Equal(t, "2025-12", p.String())
}

func TestPeriod_Before(t *testing.T) {
	cases := []struct {
		a, b Period
		want bool
	}{
		{Period{2024, 12}, Period{2025, 1}, true},
		{Period{2025, 1}, Period{2025, 2}, true},
		{Period{2025, 2}, Period{2025, 2}, false},
		{Period{2025, 3}, Period{2025, 2}, false},
		{Period{2026, 1}, Period{2025, 12}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.a.Before(tc.b), "%s < %s", tc.a, tc.b)
	}
}

func TestNewPeriod_Validation(t *testing.T) {
	_, err := NewPeriod(2025, 13)
	require.Error(t, err)
	_, err = NewPeriod(2025, 0)
	require.Error(t, err)
	p, err := NewPeriod(2025, 6)
	require.NoError(t, err)
	assert.Equal(t, Period{2025, 6}, p)
}

func TestIsClosedAt(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	assert.True(t, IsClosedAt(time.Date(2025, 5, 31, 23, 59, 59, 0, time.UTC), now))
	assert.False(t, IsClosedAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), now))
	assert.False(t, IsClosedAt(time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC), now))
}

func TestPeriodDelta_MergedAndNegate(t *testing.T) {
	d := PeriodDelta{
		ChatID:  1,
		Period:  Period{2025, 6},
		TxCount: 1,
		Members: []MemberDelta{
			{MemberID: "a", Sent: 100},
			{MemberID: "b", Received: 100},
			{MemberID: "a", Received: 30},
		},
	}

	merged := d.Merged()
	require.Len(t, merged.Members, 2)
	assert.Equal(t, MemberDelta{MemberID: "a", Sent: 100, Received: 30}, merged.Members[0])

	neg := merged.Negate()
	assert.Equal(t, int64(-1), neg.TxCount)
	assert.Equal(t, int64(-100), neg.Members[0].Sent)
	assert.Equal(t, int64(-100), neg.Members[1].Received)

	assert.False(t, d.IsZero())
	assert.True(t, PeriodDelta{Members: []MemberDelta{{MemberID: "a"}}}.IsZero())
}

func TestSummary_MissingMemberIsZero(t *testing.T) {
	s := EmptySummary(1, Period{2025, 6})
	assert.Equal(t, MemberTotals{}, s.Totals("nobody"))
	assert.Equal(t, int64(50), MemberTotals{TotalSent: 50, TotalReceived: 100}.Net())
}
