package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/guard/repository"
	guardservice "github.com/smallbiznis/orderguard/internal/guard/service"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	"github.com/smallbiznis/orderguard/internal/platform/mock"
	riskdomain "github.com/smallbiznis/orderguard/internal/risk/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/internal/verification"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const merchant = "shop-7.example.com"

type sentEmail struct {
	to   []string
	data map[string]interface{}
}

type fakeEmail struct {
	mu   sync.Mutex
	err  error
	sent []sentEmail
}

func (f *fakeEmail) Send(context.Context, []string, string, string) error { return nil }

func (f *fakeEmail) SendTemplate(_ context.Context, to []string, _ string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to: to, data: data.(map[string]interface{})})
	return nil
}

type countingHolds struct {
	mu    sync.Mutex
	holds int
}

func (c *countingHolds) AddOnHold(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holds++
	return nil
}

type noCounters struct{}

func (noCounters) AddPrevented(context.Context, string, float64) error { return nil }

type fixture struct {
	orch     *Orchestrator
	guard    *guardservice.Service
	platform *mock.MockClient
	email    *fakeEmail
	holds    *countingHolds
	clock    *clock.FakeClock
	issuer   *verification.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &guarddomain.Order{})
	ctrl := gomock.NewController(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC))
	risk := config.StaticRiskConfig(config.DefaultRiskConfig())
	platform := mock.NewMockClient(ctrl)
	repo := repository.Provide()

	tags := NewTagSyncer(TagSyncerParams{DB: db, Clock: clk, Repo: repo, Platform: platform})
	guard := guardservice.New(guardservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clk,
		Repo:     repo,
		Platform: platform,
		Risk:     risk,
		Tags:     tags,
		Counters: noCounters{},
	})

	issuer, err := verification.NewIssuer(config.Config{
		AppSecret:    "orchestrator-test-secret",
		Verification: config.VerificationConfig{BaseURL: "https://verify.example.com/v"},
	}, risk, clk)
	require.NoError(t, err)

	f := &fixture{
		guard:    guard,
		platform: platform,
		email:    &fakeEmail{},
		holds:    &countingHolds{},
		clock:    clk,
		issuer:   issuer,
	}
	f.orch = New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Repo:   repo,
		Guard:  guard,
		Tags:   tags,
		Email:  f.email,
		Issuer: issuer,
		Holds:  f.holds,
		Risk:   risk,
	})
	return f
}

func (f *fixture) flag(t *testing.T, orderID int64, level riskdomain.Level, tier int) *guarddomain.Order {
	t.Helper()
	order, _, err := f.guard.Flag(context.Background(), guarddomain.FlagRequest{
		MerchantID: merchant,
		Order: platformdomain.Order{
			ID:         orderID,
			Name:       "#2001",
			Email:      "buyer@example.com",
			Currency:   "USD",
			TotalPrice: "80.00",
			Customer:   &platformdomain.Customer{FirstName: "Ana", LastName: "Lima"},
		},
		Risk:            riskdomain.Result{Score: 2, Risk: level},
		Tier:            tier,
		NormalizedValue: 80,
	})
	require.NoError(t, err)
	return order
}

func TestAssignTier(t *testing.T) {
	cases := []struct {
		name       string
		risk       riskdomain.Level
		value      float64
		normalized bool
		want       int
	}{
		{"medium below limit", riskdomain.LevelMedium, 120, true, guarddomain.Tier1},
		{"medium at limit", riskdomain.LevelMedium, 300, true, guarddomain.Tier1},
		{"medium inside old gap", riskdomain.LevelMedium, 299.5, true, guarddomain.Tier1},
		{"medium above limit", riskdomain.LevelMedium, 300.01, true, guarddomain.Tier2},
		{"medium unknown currency", riskdomain.LevelMedium, 10, false, guarddomain.Tier2},
		{"high", riskdomain.LevelHigh, 5, true, guarddomain.Tier2},
		{"low", riskdomain.LevelLow, 5, true, guarddomain.TierNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AssignTier(tc.risk, tc.value, tc.normalized, 300))
		})
	}
}

func TestOnFlaggedTagsEmailsAndCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.flag(t, 101, riskdomain.LevelMedium, guarddomain.Tier1)

	f.platform.EXPECT().RemoveTags(gomock.Any(), merchant, int64(101), gomock.Any()).Return(nil).Times(2)
	f.platform.EXPECT().AddTags(gomock.Any(), merchant, int64(101), []string{"orderguard-medium-risk", "orderguard-pending"}).Return(nil).Times(2)

	policy := settingsdomain.Defaults(merchant)
	f.orch.OnFlagged(ctx, order, policy)

	require.Len(t, f.email.sent, 1)
	sent := f.email.sent[0]
	assert.Equal(t, []string{"buyer@example.com"}, sent.to)
	assert.Equal(t, "Ana Lima", sent.data["customer_name"])
	assert.Equal(t, guarddomain.Tier1, sent.data["tier"])

	link := sent.data["verify_url"].(string)
	require.True(t, strings.HasPrefix(link, "https://verify.example.com/v?token="))
	claims, err := f.issuer.Parse(strings.TrimPrefix(link, "https://verify.example.com/v?token="))
	require.NoError(t, err)
	assert.Equal(t, int64(101), claims.OrderID)
	assert.Equal(t, merchant, claims.MerchantID)

	// redelivery inside the cooldown neither re-sends nor re-counts
	f.orch.OnFlagged(ctx, order, policy)
	assert.Len(t, f.email.sent, 1)
	assert.Equal(t, 1, f.holds.holds)

	stored, err := f.guard.Get(ctx, merchant, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EmailCount)
	assert.Equal(t, time.Hour.Milliseconds(), stored.EmailMinResendDelayMs)
}

func TestOnFlaggedAutoCancelsHighRisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.flag(t, 102, riskdomain.LevelHigh, guarddomain.Tier2)

	f.platform.EXPECT().RemoveTags(gomock.Any(), merchant, int64(102), gomock.Any()).Return(nil).AnyTimes()
	f.platform.EXPECT().AddTags(gomock.Any(), merchant, int64(102), gomock.Any()).Return(nil).AnyTimes()
	f.platform.EXPECT().Cancel(gomock.Any(), merchant, int64(102), "auto-cancelled high risk order").
		Return(&platformdomain.Transaction{ID: 9, Kind: platformdomain.TransactionKindVoid}, nil)

	policy := settingsdomain.Defaults(merchant)
	policy.AutoCancelHighRisk = true
	f.orch.OnFlagged(ctx, order, policy)

	assert.Empty(t, f.email.sent)
	assert.Equal(t, guarddomain.StatusCancelled, order.Status)
	assert.Equal(t, "orderguard-cancelled", order.VerificationStatusTag)
	assert.Equal(t, 1, f.holds.holds)
}

func TestOnFlaggedSurvivesTagFailure(t *testing.T) {
	f := newFixture(t)
	order := f.flag(t, 103, riskdomain.LevelMedium, guarddomain.Tier1)

	f.platform.EXPECT().RemoveTags(gomock.Any(), merchant, int64(103), gomock.Any()).Return(platformdomain.ErrUnavailable)

	f.orch.OnFlagged(context.Background(), order, settingsdomain.Defaults(merchant))
	assert.Len(t, f.email.sent, 1)
	assert.Equal(t, 1, f.holds.holds)
}

func TestSendVerificationEmailCooldownAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.flag(t, 104, riskdomain.LevelMedium, guarddomain.Tier1)

	f.email.err = errors.New("smtp down")
	_, err := f.orch.SendVerificationEmail(ctx, merchant, 104)
	require.Error(t, err)

	stored, err := f.guard.Get(ctx, merchant, 104)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.EmailCount)
	assert.Nil(t, stored.EmailLastSentAt)

	f.email.err = nil
	updated, err := f.orch.SendVerificationEmail(ctx, merchant, 104)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EmailCount)

	f.clock.Advance(30 * time.Minute)
	_, err = f.orch.SendVerificationEmail(ctx, merchant, 104)
	assert.ErrorIs(t, err, ErrEmailCooldown)

	f.clock.Advance(30 * time.Minute)
	updated, err = f.orch.SendVerificationEmail(ctx, merchant, 104)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.EmailCount)
	assert.Len(t, f.email.sent, 2)
}

func TestRecordCancellationIgnoresUnflaggedOrders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.RecordCancellation(context.Background(), merchant, platformdomain.Order{ID: 999}))
}
