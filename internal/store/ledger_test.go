package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/brew/internal/notify"
)

func TestWriteMachine_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := MachineRecord{
		ID:        "m-1",
		Seq:       7,
		Outlets:   2,
		Beverages: []string{"coffee", "milk & honey"},
		Stock: map[string]decimal.Decimal{
			"water": qty(200),
			"sugar": decimal.RequireFromString("0.25"),
		},
		Thresholds: map[string]decimal.Decimal{},
	}
	require.NoError(t, s.WriteMachine(ctx, want))
	// Idempotent
	require.NoError(t, s.WriteMachine(ctx, want))

	got, err := s.ReadMachine(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, want.Outlets, got.Outlets)
	assert.Equal(t, want.Beverages, got.Beverages)
	assert.Equal(t, "0.25", got.Stock["sugar"].String())
	assert.Equal(t, "200", got.Stock["water"].String())
	assert.Empty(t, got.Thresholds)

	all, err := s.ReadMachines(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReadMachine_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadMachine(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWriteTransaction_WithNotifications(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestMachine(t, s, "m-1")

	low := notify.Notification{
		MachineID:  "m-1",
		Ingredient: "water",
		Remaining:  qty(15),
		Threshold:  qty(20),
		Seq:        2,
	}
	inserted, err := s.WriteTransaction(ctx, createTestDispense("m-1", 2, low))
	require.NoError(t, err)
	assert.True(t, inserted)

	history, err := s.ReadHistory(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, history, 1)

	tx := history[0]
	assert.Equal(t, KindDispense, tx.Kind)
	assert.Equal(t, "ginger tea", tx.Subject)
	assert.True(t, tx.Committed())
	assert.Equal(t, "150", tx.Stock["water"].String())
	require.Len(t, tx.Notifications, 1)
	assert.Equal(t, "water", tx.Notifications[0].Ingredient)
	assert.Equal(t, "15", tx.Notifications[0].Remaining.String())
	assert.Equal(t, "20", tx.Notifications[0].Threshold.String())
	assert.Equal(t, int64(2), tx.Notifications[0].Seq)
	assert.Equal(t, "m-1", tx.Notifications[0].MachineID)
}

func TestWriteTransaction_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestMachine(t, s, "m-1")

	low := notify.Notification{Ingredient: "water", Remaining: qty(15), Threshold: qty(20)}
	tx := createTestDispense("m-1", 2, low)

	inserted, err := s.WriteTransaction(ctx, tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.WriteTransaction(ctx, tx)
	require.NoError(t, err)
	assert.False(t, inserted)

	notes, err := s.ReadNotifications(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, notes, 1, "duplicate write must not duplicate notifications")
}

func TestWriteTransaction_UnknownMachine(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WriteTransaction(context.Background(), createTestDispense("ghost", 1))
	require.Error(t, err, "foreign key must reject transactions for unrecorded machines")
}

func TestReadHistory_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestMachine(t, s, "m-1")
	createTestMachine(t, s, "m-2")

	restock := Transaction{
		MachineID: "m-1",
		Seq:       3,
		Kind:      KindRestock,
		Subject:   "sugar",
		Quantity:  qty(50),
		Outcome:   OutcomeOK,
		Stock:     map[string]decimal.Decimal{"sugar": qty(50)},
	}
	rejected := Transaction{
		MachineID: "m-1",
		Seq:       2,
		Kind:      KindDispense,
		Subject:   "ginger tea",
		Outcome:   "INGREDIENT_UNAVAILABLE",
		Stock:     map[string]decimal.Decimal{},
	}
	other := createTestDispense("m-2", 4)

	for _, tx := range []Transaction{restock, rejected, other} {
		_, err := s.WriteTransaction(ctx, tx)
		require.NoError(t, err)
	}

	history, err := s.ReadHistory(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].Seq)
	assert.False(t, history[0].Committed())
	assert.Equal(t, "INGREDIENT_UNAVAILABLE", history[0].Outcome)
	assert.Equal(t, int64(3), history[1].Seq)
	assert.Equal(t, "50", history[1].Quantity.String())
	assert.Empty(t, history[1].Notifications)
}

func TestReadHistory_Empty(t *testing.T) {
	s := createTestStore(t)

	history, err := s.ReadHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	notes, err := s.ReadNotifications(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, notes)
	assert.Empty(t, notes)
}

func TestMarshalQuantities_RoundTrip(t *testing.T) {
	in := map[string]decimal.Decimal{
		"b": decimal.RequireFromString("0.1"),
		"a": qty(3),
	}
	data, err := marshalQuantities(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"3","b":"0.1"}`, data)

	out, err := unmarshalQuantities(data)
	require.NoError(t, err)
	assert.True(t, out["b"].Equal(in["b"]))
	assert.True(t, out["a"].Equal(in["a"]))
}

func TestUnmarshalQuantities_Invalid(t *testing.T) {
	_, err := unmarshalQuantities(`{"a":"lots"}`)
	assert.Error(t, err)
}
