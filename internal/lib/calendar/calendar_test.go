package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_UsesOwnZone(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	late := time.Date(2024, 3, 1, 1, 30, 0, 0, msk)

	got := DateOf(late)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestToday_ConvertsZone(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	now := time.Date(2024, 2, 29, 22, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Today(now, msk))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), Today(now, time.UTC))
}

func TestParseDMY_TableTests(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "valid", in: "05.03.1994", want: time.Date(1994, 3, 5, 0, 0, 0, 0, time.UTC)},
		{name: "leap day", in: "29.02.2000", want: time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)},
		{name: "single digit day", in: "5.03.1994", wantErr: true},
		{name: "two digit year", in: "05.03.94", wantErr: true},
		{name: "iso format", in: "1994-03-05", wantErr: true},
		{name: "non existent date", in: "31.02.2001", wantErr: true},
		{name: "garbage", in: "hello", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDMY(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormats_RoundTrip(t *testing.T) {
	d := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-05", FormatISO(d))
	assert.Equal(t, "05.03.2024", FormatDMY(d))
	assert.Equal(t, "2024-03", YearMonth(d))

	iso, err := ParseISO(FormatISO(d))
	require.NoError(t, err)
	assert.Equal(t, d, iso)
}

func TestTimestamp_RoundTrip(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	ts := time.Date(2024, 3, 5, 10, 11, 12, 0, loc)

	s := FormatTimestamp(ts, loc)
	assert.Equal(t, "2024-03-05 10:11:12", s)

	back, err := ParseTimestamp(s, loc)
	require.NoError(t, err)
	assert.True(t, ts.Equal(back))
}

func TestAddDaysAndSameDay(t *testing.T) {
	d := time.Date(2024, 2, 28, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), AddDays(d, 2))
	assert.True(t, SameDay(d, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.False(t, SameDay(d, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
}
