package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/roach88/brew/internal/notify"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// createTestMachine writes a minimal machine record and returns it.
func createTestMachine(t *testing.T, s *Store, id string) MachineRecord {
	t.Helper()
	m := MachineRecord{
		ID:         id,
		Seq:        1,
		Outlets:    3,
		Beverages:  []string{"ginger tea"},
		Stock:      map[string]decimal.Decimal{"water": qty(200)},
		Thresholds: map[string]decimal.Decimal{"water": qty(20)},
	}
	if err := s.WriteMachine(context.Background(), m); err != nil {
		t.Fatalf("WriteMachine() failed: %v", err)
	}
	return m
}

// createTestDispense builds a committed dispense transaction.
func createTestDispense(machineID string, seq int64, notes ...notify.Notification) Transaction {
	return Transaction{
		MachineID:     machineID,
		Seq:           seq,
		Kind:          KindDispense,
		Subject:       "ginger tea",
		Quantity:      decimal.Zero,
		Outcome:       OutcomeOK,
		Stock:         map[string]decimal.Decimal{"water": qty(150)},
		Notifications: notes,
	}
}
