package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/magabrotheeeer/numerology-bot/internal/lib/keylock"
	"github.com/magabrotheeeer/numerology-bot/internal/metrics"
	"github.com/magabrotheeeer/numerology-bot/internal/models"
	"github.com/magabrotheeeer/numerology-bot/internal/services/access"
	"github.com/magabrotheeeer/numerology-bot/internal/services/forecast"
	"github.com/magabrotheeeer/numerology-bot/internal/storage/repository"
	"github.com/magabrotheeeer/numerology-bot/internal/storage/sheet"
	"github.com/magabrotheeeer/numerology-bot/internal/telegram"
)

const testUser int64 = 42

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1].text
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type composeCall struct {
	birth time.Time
	full  bool
}

type stubComposer struct {
	mu    sync.Mutex
	calls []composeCall
}

func (c *stubComposer) Compose(birth *time.Time, today time.Time, full bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, composeCall{birth: *birth, full: full})
	return fmt.Sprintf("forecast %s full=%t", today.Format("2006-01-02"), full)
}

func (c *stubComposer) fullFlags() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	flags := make([]bool, 0, len(c.calls))
	for _, call := range c.calls {
		flags = append(flags, call.full)
	}
	return flags
}

type fixture struct {
	svc      *Service
	table    *sheet.Memory
	repo     *repository.Storage
	sender   *fakeSender
	composer *stubComposer
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, policy access.BlockPolicy, now time.Time) *fixture {
	t.Helper()
	m := metrics.NewNop()
	table := sheet.NewMemory(repository.Columns...)
	repo := repository.New(table, newNoopLogger(), m, repository.Options{Timeout: time.Second})
	sender := &fakeSender{}
	composer := &stubComposer{}
	svc := NewService(repo, sender, composer, access.New(policy), keylock.New(), m, newNoopLogger(),
		Options{TrialDays: 3, Location: time.UTC})
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, table: table, repo: repo, sender: sender, composer: composer, metrics: m}
}

func (f *fixture) handle(t *testing.T, text string) error {
	t.Helper()
	return f.svc.Handle(context.Background(), models.InboundEvent{
		UserID:  testUser,
		ChatID:  testUser,
		Text:    text,
		Profile: models.Profile{Username: "neo", FirstName: "Томас"},
	})
}

func (f *fixture) record(t *testing.T) models.UserRecord {
	t.Helper()
	rec, found, err := f.repo.Find(context.Background(), testUser)
	require.NoError(t, err)
	require.True(t, found)
	return rec
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

var march15 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want intent
	}{
		{"/start", intentStart},
		{"/start@numerology_bot", intentStart},
		{"/START payload", intentStart},
		{"/today", intentForecast},
		{telegram.ButtonForecast, intentForecast},
		{"/status", intentStatus},
		{telegram.ButtonStatus, intentStatus},
		{"/help", intentHelp},
		{"/unknown", intentHelp},
		{"05.03.1994", intentDate},
		{"5.3.94", intentDate},
		{"1994-03-05", intentDate},
		{"привет", intentHelp},
		{"", intentHelp},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.text))
		})
	}
}

func TestHandle_StartRegistersTrial(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)

	require.NoError(t, f.handle(t, "/start"))

	rec := f.record(t)
	assert.Equal(t, models.StatusActive, rec.Status)
	assert.Equal(t, models.PlanTrial, rec.Plan)
	require.NotNil(t, rec.TrialExpires)
	assert.True(t, date(2024, 3, 18).Equal(*rec.TrialExpires))
	assert.True(t, date(2024, 3, 15).Equal(rec.RegisteredOn))
	assert.Equal(t, "neo", rec.Username)

	reply := f.sender.last(t)
	assert.Contains(t, reply, "Томас")
	assert.Contains(t, reply, "18.03.2024")
	assert.Contains(t, reply, "ДД.ММ.ГГГГ")
}

func TestHandle_ConcurrentFirstContactCreatesOneRow(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, access.BlockStatus, march15)
	f.table.Latency = 10 * time.Millisecond

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.handle(t, "/start")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := f.table.Rows(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	appends, _ := f.table.Writes()
	assert.Equal(t, 1, appends)
	assert.Equal(t, 0, f.svc.locks.Len())
}

func TestHandle_BirthDateOnRegistrationDay(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)

	require.NoError(t, f.handle(t, "05.03.1994"))
	require.NoError(t, f.handle(t, "/today"))
	require.NoError(t, f.handle(t, telegram.ButtonForecast))

	assert.Equal(t, []bool{true, false, false}, f.composer.fullFlags())
	rec := f.record(t)
	require.NotNil(t, rec.BirthDate)
	assert.True(t, date(1994, 3, 5).Equal(*rec.BirthDate))
	assert.Equal(t, "2024-03", rec.LastFullYM)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Forecasts.WithLabelValues(string(forecast.DetailFull))))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Forecasts.WithLabelValues(string(forecast.DetailShort))))
}

func TestHandle_LastFullYMOnlyAfterSuccessfulSend(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)
	f.sender.fail(errors.New("telegram is down"))

	err := f.handle(t, "05.03.1994")
	require.Error(t, err)

	rec := f.record(t)
	require.NotNil(t, rec.BirthDate, "birth date is stored before the forecast is sent")
	assert.Empty(t, rec.LastFullYM)

	f.sender.fail(nil)
	require.NoError(t, f.handle(t, "/today"))
	assert.Equal(t, []bool{true, true}, f.composer.fullFlags())
	assert.Equal(t, "2024-03", f.record(t).LastFullYM)
}

func TestHandle_FirstOfMonthAlwaysFull(t *testing.T) {
	f := newFixture(t, access.BlockStatus, time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, f.repo.Upsert(context.Background(), models.UserRecord{
		UserID:       testUser,
		Status:       models.StatusActive,
		Plan:         models.PlanPremium,
		BirthDate:    ptr(date(1994, 3, 5)),
		RegisteredOn: date(2024, 1, 10),
		LastFullYM:   "2024-04",
	}))

	require.NoError(t, f.handle(t, "/today"))
	require.NoError(t, f.handle(t, "/today"))

	assert.Equal(t, []bool{true, true}, f.composer.fullFlags())
}

func TestHandle_NoBirthDateAsksForIt(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)

	require.NoError(t, f.handle(t, "/today"))

	assert.Equal(t, forecast.AskBirthDateText, f.sender.last(t))
	assert.Empty(t, f.composer.fullFlags())
}

func TestHandle_AutoBlock(t *testing.T) {
	tests := []struct {
		name       string
		policy     access.BlockPolicy
		wantStatus models.Status
		wantPlan   models.Plan
	}{
		{"status policy", access.BlockStatus, models.StatusBlocked, models.PlanTrial},
		{"plan policy", access.BlockPlan, models.StatusActive, models.PlanBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy, march15)
			require.NoError(t, f.repo.Upsert(context.Background(), models.UserRecord{
				UserID:       testUser,
				Status:       models.StatusActive,
				Plan:         models.PlanTrial,
				TrialExpires: ptr(date(2024, 3, 14)),
				BirthDate:    ptr(date(1994, 3, 5)),
				RegisteredOn: date(2024, 3, 11),
			}))

			require.NoError(t, f.handle(t, "/today"))
			assert.Equal(t, msgRestricted, f.sender.last(t))
			require.NoError(t, f.handle(t, "/today"))
			assert.Equal(t, msgRestricted, f.sender.last(t))

			rec := f.record(t)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantPlan, rec.Plan)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AutoBlocks))
			assert.Empty(t, f.composer.fullFlags())
		})
	}
}

func TestHandle_StartOnExpiredTrial(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"start", "/start", restrictedWelcomeText("Томас")},
		{"free text", "привет", helpText()},
		{"malformed date", "31.02.1990", msgWrongDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, access.BlockStatus, march15)
			require.NoError(t, f.repo.Upsert(context.Background(), models.UserRecord{
				UserID:       testUser,
				Status:       models.StatusActive,
				Plan:         models.PlanTrial,
				TrialExpires: ptr(date(2024, 3, 1)),
				RegisteredOn: date(2024, 2, 27),
			}))

			require.NoError(t, f.handle(t, tt.text))

			reply := f.sender.last(t)
			assert.Equal(t, tt.want, reply)
			assert.NotContains(t, reply, "01.03.2024")
			assert.Equal(t, models.StatusBlocked, f.record(t).Status)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AutoBlocks))
		})
	}
}

func TestHandle_StartForPremiumHidesTrial(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)
	require.NoError(t, f.repo.Upsert(context.Background(), models.UserRecord{
		UserID:       testUser,
		Status:       models.StatusActive,
		Plan:         models.PlanPremium,
		TrialExpires: ptr(date(2024, 3, 1)),
		BirthDate:    ptr(date(1994, 3, 5)),
		RegisteredOn: date(2024, 2, 27),
	}))

	require.NoError(t, f.handle(t, "/start"))

	assert.Equal(t, welcomeText("Томас", nil, true), f.sender.last(t))
	assert.Equal(t, models.StatusActive, f.record(t).Status)
	assert.Zero(t, testutil.ToFloat64(f.metrics.AutoBlocks))
}

func TestHandle_TrialLastDayStillAllowed(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)
	require.NoError(t, f.repo.Upsert(context.Background(), models.UserRecord{
		UserID:       testUser,
		Status:       models.StatusActive,
		Plan:         models.PlanTrial,
		TrialExpires: ptr(date(2024, 3, 15)),
		BirthDate:    ptr(date(1994, 3, 5)),
		RegisteredOn: date(2024, 3, 12),
	}))

	require.NoError(t, f.handle(t, "/today"))

	assert.True(t, strings.HasPrefix(f.sender.last(t), "forecast 2024-03-15"))
	assert.Equal(t, models.StatusActive, f.record(t).Status)
}

func TestHandle_Status(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)

	require.NoError(t, f.handle(t, "/status"))
	assert.Equal(t, trialText(date(2024, 3, 18)), f.sender.last(t))

	rec := f.record(t)
	rec.Plan = models.PlanPremium
	require.NoError(t, f.repo.Upsert(context.Background(), rec))
	require.NoError(t, f.handle(t, telegram.ButtonStatus))
	assert.Equal(t, msgPremium, f.sender.last(t))
}

func TestHandle_InvalidBirthDate(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"31.02.1990", msgWrongDate},
		{"1994-03-05", msgWrongDate},
		{"5.3.94", msgWrongDate},
		{"01.01.2099", msgFutureDate},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := newFixture(t, access.BlockStatus, march15)

			require.NoError(t, f.handle(t, tt.text))

			assert.Equal(t, tt.want, f.sender.last(t))
			assert.Nil(t, f.record(t).BirthDate)
		})
	}
}

func TestHandle_FreeTextGetsHelp(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)

	require.NoError(t, f.handle(t, "привет"))

	assert.Equal(t, helpText(), f.sender.last(t))
	f.record(t)
}

func TestHandle_StoreUnavailable(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)
	f.table.Fail(errors.New("quota exceeded"))

	require.NoError(t, f.handle(t, "/today"))
	assert.Equal(t, msgUnavailableAskDate, f.sender.last(t))

	require.NoError(t, f.handle(t, "/status"))
	assert.Equal(t, msgUnavailable, f.sender.last(t))

	require.NoError(t, f.handle(t, "05.03.1994"))
	reply := f.sender.last(t)
	assert.True(t, strings.HasPrefix(reply, "forecast 2024-03-15 full=false"))
	assert.True(t, strings.HasSuffix(reply, msgNotSaved))
	assert.Equal(t, []bool{false}, f.composer.fullFlags())

	for _, m := range f.sender.sent {
		assert.NotContains(t, m.text, "quota")
	}

	f.table.Fail(nil)
	rows, err := f.table.Rows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHandle_InvalidEvent(t *testing.T) {
	f := newFixture(t, access.BlockStatus, march15)

	err := f.svc.Handle(context.Background(), models.InboundEvent{ChatID: 1, Text: "/start"})

	require.Error(t, err)
	assert.Empty(t, f.sender.sent)
}
