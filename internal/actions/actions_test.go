package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeBalances struct {
	err      error
	balances map[string]float64
}

func (f fakeBalances) GetBalance(_ context.Context, alias string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.balances[alias], nil
}

func testDeps(balances BalanceReader) Deps {
	return Deps{
		Balances: balances,
		Now:      func() time.Time { return fixedNow },
		NewID:    func() string { return "job-1" },
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(testDeps(nil))

	assert.Equal(t, []string{"deferred", "generic", "ignore", "notify", "topup"}, r.IDs())

	_, ok := r.Get("generic")
	assert.True(t, ok)
	_, ok = r.Get("unknown")
	assert.False(t, ok)

	def, ok := r.DefaultRule("deferred")
	require.True(t, ok)
	assert.Equal(t, "deferred", def.Action)
	assert.Equal(t, 14, def.OptInt("days", 0))

	def, ok = r.DefaultRule("topup")
	require.True(t, ok)
	assert.True(t, def.SecurityChecksRequired())

	_, ok = r.DefaultRule("unknown")
	assert.False(t, ok)
}

func TestGeneric(t *testing.T) {
	msg := model.InboundMessage{From: "a@x.com", Subject: "hi", Body: "..."}

	tests := []struct {
		name       string
		options    map[string]any
		wantErr    string
		wantIntent *model.PaymentIntent
	}{
		{
			name:    "builds intent with default description",
			options: map[string]any{"amount": 10, "to_alias": "iban1"},
			wantIntent: &model.PaymentIntent{
				Amount:      10,
				ToAlias:     "iban1",
				Description: "a@x.com: hi",
			},
		},
		{
			name: "explicit options",
			options: map[string]any{
				"amount": "12,50", "to_alias": "bob@example.com", "description": "Lunch",
				"draft": true, "notes": "split bill", "currency": "USD",
			},
			wantIntent: &model.PaymentIntent{
				Amount:      12.5,
				ToAlias:     "bob@example.com",
				Description: "Lunch",
				Currency:    "USD",
				Draft:       boolPtr(true),
				Notes:       []string{"split bill"},
			},
		},
		{name: "missing amount", options: map[string]any{"to_alias": "iban1"}, wantErr: "missing or invalid option: amount"},
		{name: "missing to_alias", options: map[string]any{"amount": 10}, wantErr: "missing required option: to_alias"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := (&Generic{}).Handle(context.Background(), msg, model.Rule{Action: "generic", Options: tt.options})
			require.NoError(t, err)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, res.Error)
				assert.Nil(t, res.Payment)
				return
			}
			assert.Equal(t, tt.wantIntent, res.Payment)
			assert.Contains(t, res.Payment.Description, tt.wantIntent.Description)
		})
	}
}

func TestDeferred(t *testing.T) {
	d := &Deferred{deps: testDeps(nil)}
	msg := model.InboundMessage{
		From:       "billing@shop.com",
		Subject:    "Invoice 7",
		ReceivedAt: time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC),
	}

	res, err := d.Handle(context.Background(), msg, model.Rule{
		Options: map[string]any{"amount": 50.0, "to_alias": "NL91ABNA0417164300", "days": 5},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, "job-1", res.Job.ID)
	assert.Equal(t, model.JobPayment, res.Job.Type)
	assert.Equal(t, fixedNow.AddDate(0, 0, 5), res.Job.Date)
	require.NotNil(t, res.Job.Payment)
	assert.Equal(t, "2024-05-30-50.00-billing@shop.com: Invoice 7", res.Job.Payment.Reference)
	require.NoError(t, res.Job.Validate())

	res, err = d.Handle(context.Background(), msg, model.Rule{
		Options: map[string]any{"amount": 50.0, "to_alias": "x", "days": -1},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestTopUp(t *testing.T) {
	rule := model.Rule{Options: map[string]any{
		"account": "savings@bank", "threshold": 100, "amount": 50, "from_alias": "main@bank",
	}}

	t.Run("below threshold pays", func(t *testing.T) {
		a := &TopUp{deps: testDeps(fakeBalances{balances: map[string]float64{"savings@bank": 20}})}
		res, err := a.Handle(context.Background(), model.InboundMessage{}, rule)
		require.NoError(t, err)
		require.NotNil(t, res.Payment)
		assert.Equal(t, 50.0, res.Payment.Amount)
		assert.Equal(t, "savings@bank", res.Payment.ToAlias)
		assert.Equal(t, "main@bank", res.Payment.FromAlias)
		assert.Equal(t, "Top-up savings@bank", res.Payment.Description)
	})

	t.Run("above threshold is informational", func(t *testing.T) {
		a := &TopUp{deps: testDeps(fakeBalances{balances: map[string]float64{"savings@bank": 150}})}
		res, err := a.Handle(context.Background(), model.InboundMessage{}, rule)
		require.NoError(t, err)
		assert.Nil(t, res.Payment)
		assert.Contains(t, res.Info, "above threshold")
	})

	t.Run("balance lookup failure", func(t *testing.T) {
		a := &TopUp{deps: testDeps(fakeBalances{err: errors.New("boom")})}
		res, err := a.Handle(context.Background(), model.InboundMessage{}, rule)
		require.NoError(t, err)
		assert.Contains(t, res.Error, "boom")
	})

	t.Run("missing account", func(t *testing.T) {
		a := &TopUp{deps: testDeps(fakeBalances{})}
		res, err := a.Handle(context.Background(), model.InboundMessage{}, model.Rule{})
		require.NoError(t, err)
		assert.Equal(t, "missing required option: account", res.Error)
	})

	t.Run("no balance reader is a config fault", func(t *testing.T) {
		a := &TopUp{deps: testDeps(nil)}
		_, err := a.Handle(context.Background(), model.InboundMessage{}, rule)
		assert.Error(t, err)
	})
}

func TestNotify(t *testing.T) {
	n := &Notify{deps: testDeps(nil)}
	msg := model.InboundMessage{From: "a@x.com", Subject: "Package shipped"}

	rule := model.Rule{Options: map[string]any{"channel": "email", "delay_minutes": 30}}
	res, err := n.Handle(context.Background(), msg, rule)
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, model.JobEmail, res.Job.Type)
	assert.Equal(t, fixedNow.Add(30*time.Minute), res.Job.Date)
	assert.Equal(t, "Package shipped", res.Job.Notification.Subject)
	assert.Contains(t, res.Job.Notification.Message, "a@x.com")

	res, err = n.Handle(context.Background(), msg, model.Rule{Options: map[string]any{"channel": "sms"}})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "unsupported notification channel")
}

func TestIgnore(t *testing.T) {
	res, err := Ignore{}.Handle(context.Background(), model.InboundMessage{}, model.Rule{})
	require.NoError(t, err)
	assert.Equal(t, "ignored", res.Info)
	assert.False(t, res.Empty())
	assert.True(t, Result{}.Empty())
}
