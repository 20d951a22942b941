package store

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/brew/internal/notify"
)

// Kind identifies the type of a ledger transaction.
type Kind string

const (
	// KindDispense is a beverage dispense.
	KindDispense Kind = "dispense"
	// KindRestock is an add_ingredient call.
	KindRestock Kind = "restock"
)

// OutcomeOK marks a committed transaction. Rejected transactions carry the
// engine error code instead.
const OutcomeOK = "ok"

// MachineRecord is the initial configuration of a machine.
type MachineRecord struct {
	ID         string
	Seq        int64
	Outlets    int
	Beverages  []string
	Stock      map[string]decimal.Decimal
	Thresholds map[string]decimal.Decimal
}

// Transaction is one dispense or restock against a machine.
type Transaction struct {
	MachineID string
	Seq       int64
	Kind      Kind

	// Subject is the beverage for a dispense or the ingredient for a restock.
	Subject string

	// Quantity is the amount added by a restock; zero for dispenses.
	Quantity decimal.Decimal

	// Outcome is OutcomeOK or an engine error code.
	Outcome string

	// Stock is the machine's full stock after the transaction.
	Stock map[string]decimal.Decimal

	Notifications []notify.Notification
}

// Committed reports whether the transaction changed the machine's stock.
func (t Transaction) Committed() bool {
	return t.Outcome == OutcomeOK
}
