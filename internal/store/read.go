package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/brew/internal/notify"
)

// ReadMachine retrieves a single machine record by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadMachine(ctx context.Context, id string) (MachineRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, outlets, beverages, stock, thresholds
		FROM machines
		WHERE id = ?
	`, id)
	return scanMachine(row)
}

// ReadMachines returns every recorded machine ordered by creation seq.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadMachines(ctx context.Context) ([]MachineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, outlets, beverages, stock, thresholds
		FROM machines
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	machines := []MachineRecord{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate machines: %w", err)
	}
	return machines, nil
}

// ReadHistory returns every transaction recorded for a machine, in seq
// order, with notifications attached.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReadHistory(ctx context.Context, machineID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, machine_id, seq, kind, subject, quantity, outcome, stock
		FROM transactions
		WHERE machine_id = ?
		ORDER BY seq ASC
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	history := []Transaction{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			rowID     int64
			t         Transaction
			kind      string
			quantity  string
			stockJSON string
		)
		if err := rows.Scan(&rowID, &t.MachineID, &t.Seq, &kind, &t.Subject, &quantity, &t.Outcome, &stockJSON); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = Kind(kind)
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("scan transaction %d: quantity: %w", t.Seq, err)
		}
		if t.Stock, err = unmarshalQuantities(stockJSON); err != nil {
			return nil, fmt.Errorf("scan transaction %d: %w", t.Seq, err)
		}
		index[rowID] = len(history)
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	rows.Close()

	notes, err := s.readNotificationRows(ctx, machineID)
	if err != nil {
		return nil, err
	}
	for _, nr := range notes {
		i, ok := index[nr.transactionID]
		if !ok {
			continue
		}
		history[i].Notifications = append(history[i].Notifications, nr.Notification)
	}

	return history, nil
}

// ReadNotifications returns every notification recorded for a machine in
// the order they were raised.
//
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadNotifications(ctx context.Context, machineID string) ([]notify.Notification, error) {
	rows, err := s.readNotificationRows(ctx, machineID)
	if err != nil {
		return nil, err
	}
	out := make([]notify.Notification, 0, len(rows))
	for _, nr := range rows {
		out = append(out, nr.Notification)
	}
	return out, nil
}

type notificationRow struct {
	notify.Notification
	transactionID int64
}

func (s *Store) readNotificationRows(ctx context.Context, machineID string) ([]notificationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.transaction_id, t.machine_id, t.seq, n.ingredient, n.remaining, n.threshold
		FROM notifications n
		JOIN transactions t ON n.transaction_id = t.id
		WHERE t.machine_id = ?
		ORDER BY t.seq ASC, n.id ASC
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []notificationRow
	for rows.Next() {
		var (
			nr                   notificationRow
			remaining, threshold string
		)
		if err := rows.Scan(&nr.transactionID, &nr.MachineID, &nr.Seq, &nr.Ingredient, &remaining, &threshold); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if nr.Remaining, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("scan notification: remaining: %w", err)
		}
		if nr.Threshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, fmt.Errorf("scan notification: threshold: %w", err)
		}
		out = append(out, nr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (MachineRecord, error) {
	var (
		m                                       MachineRecord
		beveragesJSON, stockJSON, thresholdJSON string
	)
	if err := row.Scan(&m.ID, &m.Seq, &m.Outlets, &beveragesJSON, &stockJSON, &thresholdJSON); err != nil {
		if err == sql.ErrNoRows {
			return MachineRecord{}, err
		}
		return MachineRecord{}, fmt.Errorf("scan machine: %w", err)
	}

	var err error
	if m.Beverages, err = unmarshalNames(beveragesJSON); err != nil {
		return MachineRecord{}, fmt.Errorf("scan machine %s: %w", m.ID, err)
	}
	if m.Stock, err = unmarshalQuantities(stockJSON); err != nil {
		return MachineRecord{}, fmt.Errorf("scan machine %s: stock: %w", m.ID, err)
	}
	if m.Thresholds, err = unmarshalQuantities(thresholdJSON); err != nil {
		return MachineRecord{}, fmt.Errorf("scan machine %s: thresholds: %w", m.ID, err)
	}
	return m, nil
}
