package models

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_ValidateShape(t *testing.T) {
	ceiling := decimal.NewFromInt(1000)
	base := func() Order {
		return Order{
			Side:   Buy,
			Kind:   Limit(decimal.NewFromFloat(4.5)),
			Amount: decimal.NewFromInt(10),
			Zone:   "north",
		}
	}

	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr error
	}{
		{name: "Valid limit order", mutate: func(o *Order) {}},
		{name: "Zero amount", mutate: func(o *Order) { o.Amount = decimal.Zero }, wantErr: ErrInvalidAmount},
		{name: "Negative amount", mutate: func(o *Order) { o.Amount = decimal.NewFromInt(-1) }, wantErr: ErrInvalidAmount},
		{name: "Above ceiling", mutate: func(o *Order) { o.Amount = decimal.NewFromInt(1001) }, wantErr: ErrAmountAboveCeiling},
		{name: "At ceiling", mutate: func(o *Order) { o.Amount = ceiling }},
		{name: "Missing zone", mutate: func(o *Order) { o.Zone = "" }, wantErr: ErrUnknownZone},
		{name: "Invalid side", mutate: func(o *Order) { o.Side = 0 }, wantErr: ErrInvalidSide},
		{name: "Zero limit price", mutate: func(o *Order) { o.Kind = Limit(decimal.Zero) }, wantErr: ErrInvalidPrice},
		{name: "Zero-value kind", mutate: func(o *Order) { o.Kind = OrderKind{} }, wantErr: ErrInvalidKind},
		{name: "Market needs no price", mutate: func(o *Order) { o.Kind = Market() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(&o)
			err := o.ValidateShape(ceiling)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOrderKind_JSON(t *testing.T) {
	price := decimal.RequireFromString("3.75")
	for _, kind := range []OrderKind{Market(), Limit(price), GridBalancing(), Emergency()} {
		t.Run(kind.String(), func(t *testing.T) {
			b, err := json.Marshal(kind)
			require.NoError(t, err)

			var back OrderKind
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, kind.Tag(), back.Tag())
			p1, ok1 := kind.LimitPrice()
			p2, ok2 := back.LimitPrice()
			assert.Equal(t, ok1, ok2)
			assert.True(t, p1.Equal(p2))
		})
	}

	var k OrderKind
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"type":"limit"}`), &k), ErrInvalidPrice)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"type":"iceberg"}`), &k), ErrInvalidKind)
}

func TestOrderKind_Class(t *testing.T) {
	assert.Less(t, Emergency().Class(), GridBalancing().Class())
	assert.Less(t, GridBalancing().Class(), Market().Class())
	assert.Less(t, Market().Class(), Limit(decimal.NewFromInt(1)).Class())
	assert.True(t, Emergency().Priority())
	assert.False(t, Market().Priority())
}

func TestWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	w, err := NewWindow(start, 15*time.Minute)
	require.NoError(t, err)

	assert.False(t, w.Closed(start.Add(14*time.Minute)))
	assert.True(t, w.Closed(start.Add(15*time.Minute)))
	assert.True(t, w.Contains(start))
	assert.False(t, w.Contains(w.End))

	_, err = NewWindow(start, 0)
	assert.Error(t, err)

	aligned := WindowAt(start.Add(7*time.Minute), 15*time.Minute)
	assert.Equal(t, w, aligned)
	assert.Equal(t, KeyOf("north", w), KeyOf("north", aligned))
	assert.NotEqual(t, KeyOf("north", w), KeyOf("north", WindowAt(w.End, 15*time.Minute)))
	assert.NotEqual(t, KeyOf("north", w), KeyOf("south", w))
}

func TestOrderStatus(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusExpired} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.Matchable(), s)
	}
	assert.True(t, StatusActive.Matchable())
	assert.True(t, StatusPartiallyFilled.Matchable())
	assert.False(t, StatusPending.Terminal())
}

func TestReasonCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrInvalidAmount, "INVALID_AMOUNT"},
		{fmt.Errorf("Book.Submit: %w", ErrZoneHalted), "ZONE_HALTED"},
		{fmt.Errorf("wrapped twice: %w", fmt.Errorf("inner: %w", ErrStaleSnapshot)), "STALE_SNAPSHOT"},
		{fmt.Errorf("plain"), "INTERNAL"},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ReasonCode(tt.err))
	}

	assert.True(t, IsValidation(ErrWindowClosed))
	assert.True(t, IsConstraint(ErrCapacityExceeded))
	assert.True(t, IsInternal(ErrDuplicateTrade))
	assert.False(t, IsInternal(ErrCapacityExceeded))
}

func TestAuthorityOverride_Validate(t *testing.T) {
	tests := []struct {
		name     string
		override AuthorityOverride
		wantErr  bool
	}{
		{"Halt zone", AuthorityOverride{Authority: AuthorityGridOperator, Action: ActionHaltZone, Zone: "north"}, false},
		{"Halt without zone", AuthorityOverride{Authority: AuthorityGridOperator, Action: ActionHaltZone}, true},
		{"Inject without order", AuthorityOverride{Authority: AuthorityRegulator, Action: ActionInjectOrder}, true},
		{"Force match same order", AuthorityOverride{Authority: AuthorityRegulator, Action: ActionForceMatch, OrderA: 3, OrderB: 3}, true},
		{"Force match", AuthorityOverride{Authority: AuthorityRegulator, Action: ActionForceMatch, OrderA: 3, OrderB: 4}, false},
		{"Cancel order", AuthorityOverride{Authority: AuthorityRegulator, Action: ActionCancelOrder, OrderA: 3}, false},
		{"Cancel without order", AuthorityOverride{Authority: AuthorityRegulator, Action: ActionCancelOrder}, true},
		{"Unknown action", AuthorityOverride{Authority: AuthorityRegulator, Action: "reboot"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.override.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthorityOverride_PayloadExcludesSignature(t *testing.T) {
	o := AuthorityOverride{Authority: AuthorityGridOperator, Action: ActionHaltZone, Zone: "north", Signature: "a"}
	p1, err := o.Payload()
	require.NoError(t, err)
	o.Signature = "b"
	p2, err := o.Payload()
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}
