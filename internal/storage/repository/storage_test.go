package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
	"github.com/magabrotheeeer/numerology-bot/internal/storage/sheet"
)

var msk = time.FixedZone("MSK", 3*60*60)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestStorage(t *testing.T, table sheet.Table) (*Storage, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewNop()
	return New(table, newNoopLogger(), m, Options{Timeout: time.Second, Location: msk}), m
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func sampleRecord() models.UserRecord {
	return models.UserRecord{
		UserID:       123456789,
		Status:       models.StatusActive,
		Plan:         models.PlanTrial,
		TrialExpires: ptr(date(2024, 3, 18)),
		BirthDate:    ptr(date(1994, 3, 5)),
		CreatedAt:    time.Date(2024, 3, 15, 9, 30, 0, 0, msk),
		LastSeenAt:   time.Date(2024, 3, 16, 20, 1, 2, 0, msk),
		RegisteredOn: date(2024, 3, 15),
		LastFullYM:   "2024-03",
		Profile:      models.Profile{Username: "neo", FirstName: "Thomas", LastName: "Anderson"},
	}
}

var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

func TestUpsertFind_RoundTrip(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	s, _ := newTestStorage(t, table)
	rec := sampleRecord()

	require.NoError(t, s.Upsert(ctx, rec))

	got, found, err := s.Find(ctx, rec.UserID)
	require.NoError(t, err)
	require.True(t, found)
	if diff := cmp.Diff(rec, got, timeEqual); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{
		"123456789", "active", "trial", "2024-03-18", "05.03.1994", "2024-03-15 09:30:00",
		"2024-03-16 20:01:02", "neo", "Thomas", "Anderson", "2024-03-15", "2024-03",
	}, rows[0])
}

func TestFind_NotFound(t *testing.T) {
	s, _ := newTestStorage(t, sheet.NewMemory(Columns...))

	_, found, err := s.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsert_OverwritesExistingRow(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	s, _ := newTestStorage(t, table)
	rec := sampleRecord()

	require.NoError(t, s.Upsert(ctx, rec))
	rec.Plan = models.PlanPremium
	rec.TrialExpires = nil
	require.NoError(t, s.Upsert(ctx, rec))

	appends, updates := table.Writes()
	assert.Equal(t, 1, appends)
	assert.Equal(t, 1, updates)

	got, found, err := s.Find(ctx, rec.UserID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.PlanPremium, got.Plan)
	assert.Nil(t, got.TrialExpires)
}

func TestHeader_ReorderedAndExtraColumns(t *testing.T) {
	ctx := context.Background()
	header := []string{"notes", "plan", "user_id", "birth_date", "status", "trial_expires",
		"registered_on", "last_full_ym", "created_at", "last_seen_at", "username", "first_name", "last_name"}
	table := sheet.NewMemory(header...)
	require.NoError(t, table.AppendRow(ctx, []string{"paid by card", "premium", "42", "01.02.1990", "active"}))
	s, _ := newTestStorage(t, table)

	got, found, err := s.Find(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.PlanPremium, got.Plan)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, date(1990, 2, 1), *got.BirthDate)

	require.NoError(t, s.SetField(ctx, 42, ColLastFullYM, "2024-04"))
	got, _, err = s.Find(ctx, 42)
	require.NoError(t, err)
	got.LastSeenAt = time.Date(2024, 4, 1, 8, 0, 0, 0, msk)
	require.NoError(t, s.Upsert(ctx, got))

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "paid by card", rows[0][0], "operator column must survive a full row write")
	assert.Equal(t, "2024-04", rows[0][7])
	assert.Equal(t, "2024-04-01 08:00:00", rows[0][9])
}

func TestUpsert_KeepsCellsBeyondHeader(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	row := make([]string, len(Columns)+2)
	row[0], row[1], row[2] = "42", "active", "premium"
	row[len(Columns)+1] = "operator note"
	require.NoError(t, table.AppendRow(ctx, row))
	s, _ := newTestStorage(t, table)

	got, found, err := s.Find(ctx, 42)
	require.NoError(t, err)
	require.True(t, found)
	got.LastFullYM = "2024-04"
	require.NoError(t, s.Upsert(ctx, got))
	require.NoError(t, s.SetField(ctx, 42, ColUsername, "neo"))

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(Columns)+2)
	assert.Equal(t, "operator note", rows[0][len(Columns)+1])
	assert.Equal(t, "2024-04", rows[0][11])
	assert.Equal(t, "neo", rows[0][7])
}

func TestHeader_EmptyIsWritten(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory()
	s, _ := newTestStorage(t, table)

	_, _, err := s.Find(ctx, 1)
	require.NoError(t, err)

	header, err := table.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, Columns, header)
}

func TestHeader_MissingColumnsAppended(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory("user_id", "status", "plan", "comment")
	s, _ := newTestStorage(t, table)

	require.NoError(t, s.Upsert(ctx, sampleRecord()))

	header, err := table.Header(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "status", "plan", "comment"}, header[:4])
	assert.ElementsMatch(t, Columns, append(header[:3:3], header[4:]...))
}

func TestHeader_DuplicateColumnIsUnavailable(t *testing.T) {
	s, _ := newTestStorage(t, sheet.NewMemory("user_id", "plan", "plan"))

	_, _, err := s.Find(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestFind_DuplicateRowsFirstWins(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	require.NoError(t, table.AppendRow(ctx, []string{"7", "active", "premium"}))
	require.NoError(t, table.AppendRow(ctx, []string{"7", "blocked", "trial"}))
	s, m := newTestStorage(t, table)

	got, found, err := s.Find(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.PlanPremium, got.Plan)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateRows))
}

func TestUpsert_KeepsUnknownPlanCell(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	require.NoError(t, table.AppendRow(ctx, []string{"9", "active", "vip", "not a date"}))
	s, _ := newTestStorage(t, table)

	rec, found, err := s.Find(ctx, 9)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.PlanUnknown, rec.Plan)
	assert.Nil(t, rec.TrialExpires)

	rec.Username = "new"
	require.NoError(t, s.Upsert(ctx, rec))

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vip", rows[0][2])
	assert.Equal(t, "not a date", rows[0][3])
	assert.Equal(t, "new", rows[0][7])
}

func TestSetField_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t, sheet.NewMemory(Columns...))

	err := s.SetField(ctx, 1, "no_such_column", "x")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)

	err = s.SetField(ctx, 1, ColLastFullYM, "2024-01")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t, sheet.NewMemory(Columns...))
	rec := sampleRecord()
	require.NoError(t, s.Upsert(ctx, rec))

	at := time.Date(2024, 3, 20, 7, 0, 0, 0, time.UTC)
	require.NoError(t, s.Touch(ctx, rec.UserID, at))

	got, _, err := s.Find(ctx, rec.UserID)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastSeenAt))
}

func TestStoreFailure_CooldownAndRecovery(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	m := metrics.NewNop()
	s := New(table, newNoopLogger(), m, Options{Timeout: time.Second, RetryCooldown: time.Minute})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	table.Fail(errors.New("403 permission denied"))
	_, _, err := s.Find(ctx, 1)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	table.Fail(nil)
	_, _, err = s.Find(ctx, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable, "still cooling down")

	now = now.Add(61 * time.Second)
	_, _, err = s.Find(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("storage.Find")))
}

func TestStoreTimeout(t *testing.T) {
	table := sheet.NewMemory(Columns...)
	table.Latency = 200 * time.Millisecond
	s := New(table, newNoopLogger(), metrics.NewNop(), Options{Timeout: 20 * time.Millisecond})

	_, _, err := s.Find(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestList_SkipsBadAndDuplicateRows(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory(Columns...)
	require.NoError(t, table.AppendRow(ctx, []string{"1", "active", "trial", "2024-03-10"}))
	require.NoError(t, table.AppendRow(ctx, []string{"abc", "active", "trial"}))
	require.NoError(t, table.AppendRow(ctx, []string{}))
	require.NoError(t, table.AppendRow(ctx, []string{"2", "blocked", "trial"}))
	require.NoError(t, table.AppendRow(ctx, []string{"1", "active", "premium"}))
	s, _ := newTestStorage(t, table)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].UserID)
	assert.Equal(t, models.PlanTrial, recs[0].Plan)
	assert.Equal(t, int64(2), recs[1].UserID)
}

func TestDecode_ToleratesHandEnteredDates(t *testing.T) {
	l := layout{index: map[string]int{ColUserID: 0, ColTrialExpires: 1, ColBirthDate: 2}, width: 3}

	rec, warnings, err := decode([]string{" 5 ", "18.03.2024", "1994-03-05"}, l, time.UTC)
	require.NoError(t, err)
	assert.Len(t, warnings, 2, "status and plan are empty")
	assert.Equal(t, date(2024, 3, 18), *rec.TrialExpires)
	assert.Equal(t, date(1994, 3, 5), *rec.BirthDate)
}
