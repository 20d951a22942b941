package store

import (
	"context"
	"fmt"
)

// WriteMachine inserts a machine's initial configuration.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteMachine(ctx context.Context, m MachineRecord) error {
	beveragesJSON, err := marshalNames(m.Beverages)
	if err != nil {
		return fmt.Errorf("write machine: %w", err)
	}
	stockJSON, err := marshalQuantities(m.Stock)
	if err != nil {
		return fmt.Errorf("write machine: %w", err)
	}
	thresholdsJSON, err := marshalQuantities(m.Thresholds)
	if err != nil {
		return fmt.Errorf("write machine: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO machines (id, seq, outlets, beverages, stock, thresholds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		m.Seq,
		m.Outlets,
		beveragesJSON,
		stockJSON,
		thresholdsJSON,
	)
	if err != nil {
		return fmt.Errorf("write machine: %w", err)
	}
	return nil
}

// WriteTransaction records a transaction and its notifications atomically.
//
// Uses ON CONFLICT(machine_id, seq) DO NOTHING: writing the same transaction
// twice leaves exactly one row and its original notifications. Returns
// inserted=false for the duplicate write.
//
// Note: The machine referenced by MachineID must exist (foreign key constraint).
func (s *Store) WriteTransaction(ctx context.Context, t Transaction) (inserted bool, err error) {
	stockJSON, err := marshalQuantities(t.Stock)
	if err != nil {
		return false, fmt.Errorf("write transaction: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write transaction: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (machine_id, seq, kind, subject, quantity, outcome, stock)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine_id, seq) DO NOTHING
	`,
		t.MachineID,
		t.Seq,
		string(t.Kind),
		t.Subject,
		t.Quantity.String(),
		t.Outcome,
		stockJSON,
	)
	if err != nil {
		return false, fmt.Errorf("write transaction: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write transaction: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Already recorded; nothing else to write.
		return false, tx.Commit()
	}

	txID, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("write transaction: last insert id: %w", err)
	}

	for _, n := range t.Notifications {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (transaction_id, ingredient, remaining, threshold)
			VALUES (?, ?, ?, ?)
		`,
			txID,
			n.Ingredient,
			n.Remaining.String(),
			n.Threshold.String(),
		)
		if err != nil {
			return false, fmt.Errorf("write transaction: notification %s: %w", n.Ingredient, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write transaction: commit: %w", err)
	}
	return true, nil
}
