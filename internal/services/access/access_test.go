package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

func ptr(t time.Time) *time.Time { return &t }

func intPtr(v int) *int { return &v }

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		account models.Account
		want    Decision
	}{
		{
			name:    "expired trial",
			account: models.Account{IsTrial: true, TrialEndsAt: ptr(now.Add(-time.Hour))},
			want:    Decision{AccessAllowed: false, Reason: ReasonTrialExpired},
		},
		{
			name: "active subscription ten days left",
			account: models.Account{
				IsSubscribed:        true,
				SubscriptionEndDate: ptr(now.Add(10 * 24 * time.Hour)),
			},
			want: Decision{AccessAllowed: true, Reason: ReasonActiveSubscription, DaysRemaining: intPtr(10)},
		},
		{
			name: "partial day rounds up",
			account: models.Account{
				IsSubscribed:        true,
				SubscriptionEndDate: ptr(now.Add(9*24*time.Hour + time.Minute)),
			},
			want: Decision{AccessAllowed: true, Reason: ReasonActiveSubscription, DaysRemaining: intPtr(10)},
		},
		{
			name:    "active trial",
			account: models.Account{IsTrial: true, TrialEndsAt: ptr(now.Add(72 * time.Hour))},
			want:    Decision{AccessAllowed: true, Reason: ReasonTrialActive, DaysRemaining: intPtr(3)},
		},
		{
			name:    "trial without end date is unbounded",
			account: models.Account{IsTrial: true},
			want:    Decision{AccessAllowed: true, Reason: ReasonTrialActive},
		},
		{
			name: "subscription takes precedence over trial",
			account: models.Account{
				IsTrial:             true,
				TrialEndsAt:         ptr(now.Add(time.Hour)),
				IsSubscribed:        true,
				SubscriptionEndDate: ptr(now.Add(48 * time.Hour)),
			},
			want: Decision{AccessAllowed: true, Reason: ReasonActiveSubscription, DaysRemaining: intPtr(2)},
		},
		{
			name: "lapsed subscription",
			account: models.Account{
				IsSubscribed:        true,
				TrialEndsAt:         ptr(now.Add(-90 * 24 * time.Hour)),
				SubscriptionEndDate: ptr(now.Add(-time.Second)),
			},
			want: Decision{AccessAllowed: false, Reason: ReasonSubscriptionExpired},
		},
		{
			name: "subscription ending exactly now is denied",
			account: models.Account{
				IsSubscribed:        true,
				SubscriptionEndDate: ptr(now),
			},
			want: Decision{AccessAllowed: false, Reason: ReasonSubscriptionExpired},
		},
		{
			name:    "subscribed flag without end date",
			account: models.Account{IsSubscribed: true},
			want:    Decision{AccessAllowed: false, Reason: ReasonSubscriptionExpired},
		},
		{
			name:    "nothing at all",
			account: models.Account{},
			want:    Decision{AccessAllowed: false, Reason: ReasonSubscriptionExpired},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(&tt.account, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_NoGrantWithoutStateChange(t *testing.T) {
	base := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	accounts := []models.Account{
		{IsTrial: true, TrialEndsAt: ptr(base)},
		{IsSubscribed: true, SubscriptionEndDate: ptr(base.Add(24 * time.Hour))},
		{IsTrial: true, TrialEndsAt: ptr(base.Add(-time.Hour)), IsSubscribed: true, SubscriptionEndDate: ptr(base.Add(time.Hour))},
	}

	for i := range accounts {
		a := &accounts[i]
		wasAllowed := true
		for step := -72; step <= 72; step++ {
			now := base.Add(time.Duration(step) * time.Hour)
			allowed := Evaluate(a, now).AccessAllowed
			if !wasAllowed {
				assert.False(t, allowed, "access reappeared at %s", now)
			}
			wasAllowed = allowed
		}
	}
}

func TestStatusOf(t *testing.T) {
	now := time.Now().UTC()

	st := StatusOf(&models.Account{IsTrial: true, TrialEndsAt: ptr(now.Add(-time.Minute))}, now)
	assert.True(t, st.TrialExpired)
	assert.False(t, st.AccessAllowed)
	assert.Nil(t, st.DaysLeftInTrial)

	st = StatusOf(&models.Account{
		IsSubscribed:        true,
		SubscriptionPlan:    models.PlanAnnual,
		SubscriptionEndDate: ptr(now.Add(36 * time.Hour)),
	}, now)
	assert.True(t, st.HasActiveSubscription)
	require.NotNil(t, st.DaysLeftInSubscription)
	assert.Equal(t, 2, *st.DaysLeftInSubscription)
	assert.Equal(t, "annual", st.SubscriptionPlan)
}

type recorderMock struct {
	calls []string
}

func (r *recorderMock) AccessDecision(allowed bool, reason string) {
	if allowed {
		r.calls = append(r.calls, "allowed:"+reason)
		return
	}
	r.calls = append(r.calls, "denied:"+reason)
}

func TestEvaluator_Check(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	rec := &recorderMock{}
	e := NewEvaluator(rec)
	e.now = func() time.Time { return now }

	tests := []struct {
		name     string
		account  models.Account
		wantType string
	}{
		{name: "trial active", account: models.Account{IsTrial: true, TrialEndsAt: ptr(now.Add(time.Hour))}},
		{name: "trial expired", account: models.Account{IsTrial: true, TrialEndsAt: ptr(now.Add(-time.Hour))}, wantType: apperr.TypeTrialExpired},
		{name: "subscription expired", account: models.Account{IsSubscribed: true, SubscriptionEndDate: ptr(now.Add(-time.Hour))}, wantType: apperr.TypeSubscriptionExpired},
		{name: "admin bypass", account: models.Account{Role: models.RoleAdmin, TrialEndsAt: ptr(now.Add(-time.Hour))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Check(&tt.account)
			if tt.wantType == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
			assert.True(t, apperr.Is(err, tt.wantType))
		})
	}
	assert.Equal(t, []string{
		"allowed:trial_active",
		"denied:trial_expired",
		"denied:subscription_expired",
		"denied:trial_expired",
	}, rec.calls)
}
