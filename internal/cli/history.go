package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/brew/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DB      string
	Machine string
}

// MachineHistory is the journal of one machine.
type MachineHistory struct {
	ID           string            `json:"id"`
	Outlets      int               `json:"outlets"`
	Beverages    []string          `json:"beverages"`
	Stock        map[string]string `json:"initial_stock"`
	Transactions []TransactionView `json:"transactions"`
}

// TransactionView is the printable form of a journaled transaction.
type TransactionView struct {
	Seq           int64             `json:"seq"`
	Kind          string            `json:"kind"`
	Subject       string            `json:"subject"`
	Quantity      string            `json:"quantity,omitempty"`
	Outcome       string            `json:"outcome"`
	Stock         map[string]string `json:"stock"`
	Notifications []string          `json:"notifications,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled machine transactions",
		Long: `Read the SQLite journal written by "brew dispense --db" and print every
machine with its dispenses, restocks and low-stock notifications in
sequence order.

Examples:
  brew history --db brew.db
  brew history --db brew.db --machine 0192f1c0-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite journal to read (required)")
	cmd.Flags().StringVarP(&opts.Machine, "machine", "m", "", "only show this machine ID")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	// store.Open would create a missing file.
	if _, err := os.Stat(opts.DB); err != nil {
		msg := fmt.Sprintf("database not found: %s", opts.DB)
		_ = formatter.Error(ErrCodeStore, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var records []store.MachineRecord
	if opts.Machine != "" {
		m, err := st.ReadMachine(ctx, opts.Machine)
		if errors.Is(err, sql.ErrNoRows) {
			msg := fmt.Sprintf("machine %s is not in the journal", opts.Machine)
			_ = formatter.Error(ErrCodeUnknownTarget, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		if err != nil {
			return storeError(formatter, err)
		}
		records = []store.MachineRecord{m}
	} else if records, err = st.ReadMachines(ctx); err != nil {
		return storeError(formatter, err)
	}

	machines := make([]MachineHistory, 0, len(records))
	for _, rec := range records {
		txs, err := st.ReadHistory(ctx, rec.ID)
		if err != nil {
			return storeError(formatter, err)
		}
		machines = append(machines, machineHistory(rec, txs))
	}
	formatter.VerboseLog("Read %d machine(s) from %s", len(machines), opts.DB)

	if formatter.Format == "json" {
		return formatter.Success(machines)
	}

	w := formatter.Writer
	if len(machines) == 0 {
		fmt.Fprintln(w, "No machines recorded.")
		return nil
	}
	for _, m := range machines {
		fmt.Fprintf(w, "Machine %s: %d outlet(s), serves %s\n", m.ID, m.Outlets, strings.Join(m.Beverages, ", "))
		for _, t := range m.Transactions {
			subject := t.Subject
			if t.Quantity != "" {
				subject += " +" + t.Quantity
			}
			fmt.Fprintf(w, "  #%d %s %s: %s\n", t.Seq, t.Kind, subject, t.Outcome)
			if len(t.Notifications) > 0 {
				fmt.Fprintf(w, "     low: %s\n", strings.Join(t.Notifications, ", "))
			}
		}
	}
	return nil
}

func machineHistory(rec store.MachineRecord, txs []store.Transaction) MachineHistory {
	h := MachineHistory{
		ID:           rec.ID,
		Outlets:      rec.Outlets,
		Beverages:    rec.Beverages,
		Stock:        make(map[string]string, len(rec.Stock)),
		Transactions: make([]TransactionView, 0, len(txs)),
	}
	for k, v := range rec.Stock {
		h.Stock[k] = v.String()
	}

	for _, t := range txs {
		v := TransactionView{
			Seq:     t.Seq,
			Kind:    string(t.Kind),
			Subject: t.Subject,
			Outcome: t.Outcome,
			Stock:   make(map[string]string, len(t.Stock)),
		}
		if t.Kind == store.KindRestock {
			v.Quantity = t.Quantity.String()
		}
		for k, q := range t.Stock {
			v.Stock[k] = q.String()
		}
		for _, n := range t.Notifications {
			v.Notifications = append(v.Notifications, n.Ingredient)
		}
		h.Transactions = append(h.Transactions, v)
	}
	return h
}

func storeError(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(ErrCodeStore, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to read journal", err)
}
