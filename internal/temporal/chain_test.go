package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOne(t *testing.T) {
	none, err := One([]int{})
	require.NoError(t, err)
	require.Nil(t, none)

	single, err := One([]int{7})
	require.NoError(t, err)
	require.Equal(t, 7, *single)

	_, err = One([]int{1, 2})
	require.ErrorIs(t, err, ErrAmbiguousChain)
}

func TestContainsDateInclusiveUpperBound(t *testing.T) {
	to := date(2025, time.March, 14)
	w := Window{EffectiveFrom: date(2025, time.January, 1), EffectiveTo: &to}

	require.True(t, w.ContainsDate(date(2025, time.January, 1)))
	require.True(t, w.ContainsDate(date(2025, time.March, 14)))
	require.False(t, w.ContainsDate(date(2025, time.March, 15)))
	require.False(t, w.ContainsDate(date(2024, time.December, 31)))
}

func TestContainsInstantExclusiveUpperBound(t *testing.T) {
	cut := date(2025, time.March, 14)
	w := Window{EffectiveFrom: date(2025, time.January, 1), EffectiveTo: &cut}

	require.True(t, w.ContainsInstant(cut.Add(-time.Second)))
	require.False(t, w.ContainsInstant(cut))
}

func TestOpenWindowContainsAnyLaterPoint(t *testing.T) {
	w := Window{EffectiveFrom: date(2025, time.January, 1)}
	require.True(t, w.Open())
	require.True(t, w.ContainsDate(date(2030, time.June, 30)))
}

func TestCheckSucceeds(t *testing.T) {
	active := Window{EffectiveFrom: date(2025, time.February, 1)}

	require.NoError(t, CheckSucceeds(active, date(2025, time.February, 2)))
	require.ErrorIs(t, CheckSucceeds(active, date(2025, time.February, 1)), ErrOverlap)
	require.ErrorIs(t, CheckSucceeds(active, date(2025, time.January, 15)), ErrOverlap)
}

func TestDayBefore(t *testing.T) {
	require.Equal(t, date(2025, time.February, 28), DayBefore(date(2025, time.March, 1)))
	require.Equal(t, date(2024, time.February, 29), DayBefore(date(2024, time.March, 1)))
}
