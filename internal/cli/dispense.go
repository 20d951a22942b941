package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/brew/internal/engine"
	"github.com/roach88/brew/internal/fixture"
	"github.com/roach88/brew/internal/metrics"
	"github.com/roach88/brew/internal/notify"
	"github.com/roach88/brew/internal/store"
)

// DispenseOptions holds flags for the dispense command.
type DispenseOptions struct {
	*RootOptions
	Machine string
	DB      string
	Metrics bool
	Timeout time.Duration
	Edge    bool
}

// RequestResult is the outcome of one dispense request.
type RequestResult struct {
	Beverage      string                `json:"beverage"`
	Outcome       string                `json:"outcome"`
	Message       string                `json:"message,omitempty"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// DispenseResult is the output of the dispense command.
type DispenseResult struct {
	Machine   string            `json:"machine"`
	MachineID string            `json:"machine_id"`
	Requests  []RequestResult   `json:"requests"`
	Stock     map[string]string `json:"stock"`
	Metrics   []string          `json:"metrics,omitempty"`
}

// NewDispenseCommand creates the dispense command.
func NewDispenseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispenseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispense <fixture-dir> <beverage>...",
		Short: "Dispense beverages concurrently on a fixture machine",
		Long: `Build the fixture and fire every requested beverage at the machine at
the same time. Requests beyond the machine's outlet count wait for a free
outlet. Each request reports ok or the reason it was rejected.

Exit codes:
  0 - Every beverage was prepared
  1 - At least one request was rejected
  2 - Command error (bad fixture path, unknown machine, etc.)

Examples:
  brew dispense ./fixtures/coffee --machine main "ginger tea" "ginger tea" coffee
  brew dispense ./fixtures/coffee --machine main --db brew.db --metrics "elaichi tea"`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispense(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Machine, "machine", "m", "", "fixture machine name (defaults to the first machine)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "journal transactions to this SQLite database")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print a metrics summary")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "maximum wait for a free outlet per request (0 waits forever)")
	cmd.Flags().BoolVar(&opts.Edge, "edge", false, "notify only when stock crosses a threshold")

	return cmd
}

func runDispense(opts *DispenseOptions, dir string, beverages []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	logger := opts.Logger(cmd.ErrOrStderr())

	f, err := fixture.Load(dir)
	if err != nil {
		return fixtureError(formatter, err)
	}

	name := opts.Machine
	if name == "" && len(f.Machines) > 0 {
		name = f.Machines[0].Name
	}
	if _, ok := f.Machine(name); !ok {
		msg := fmt.Sprintf("machine %q is not declared in %s", name, dir)
		_ = formatter.Error(ErrCodeUnknownTarget, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	recorder := notify.NewRecorder()
	async := notify.NewAsyncSink(notify.Multi{notify.NewLogSink(logger), recorder})
	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithSink(async),
	}
	if opts.Edge {
		engineOpts = append(engineOpts, engine.WithNotifyMode(engine.NotifyEdge))
	}

	if opts.DB != "" {
		st, err := store.Open(opts.DB)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		engineOpts = append(engineOpts, engine.WithJournal(st))
		formatter.VerboseLog("Journaling to %s", opts.DB)
	}

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		engineOpts = append(engineOpts, engine.WithMetrics(metrics.MustNew(reg)))
	}

	built, err := f.Build(ctx, engineOpts...)
	if err != nil {
		return fixtureError(formatter, err)
	}
	id, err := builtMachineID(built, name)
	if err != nil {
		_ = formatter.Error(ErrCodeUnknownTarget, err.Error(), nil)
		return err
	}

	deliver := make(chan error, 1)
	go func() { deliver <- async.Run(context.WithoutCancel(ctx)) }()

	requests := fire(ctx, built.Engine, id, beverages, opts.Timeout)

	async.Close()
	if err := <-deliver; err != nil {
		return WrapExitError(ExitCommandError, "notification delivery failed", err)
	}

	snap, err := built.Engine.Machine(id)
	if err != nil {
		return WrapExitError(ExitCommandError, "read machine", err)
	}

	result := DispenseResult{
		Machine:   name,
		MachineID: id,
		Requests:  requests,
		Stock:     snap.StockStrings(),
	}
	if reg != nil {
		samples, err := metrics.Summarize(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "gather metrics", err)
		}
		for _, s := range samples {
			result.Metrics = append(result.Metrics, s.String())
		}
	}

	rejected := 0
	for _, r := range requests {
		if r.Outcome != store.OutcomeOK {
			rejected++
		}
	}
	formatter.VerboseLog("%d notification(s) raised", recorder.Len())

	if formatter.Format == "json" {
		if rejected > 0 {
			if err := formatter.Failure(ErrCodeGeneric, fmt.Sprintf("%d of %d request(s) rejected", rejected, len(requests)), result); err != nil {
				return err
			}
		} else if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printDispense(formatter, result)
	}

	if rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d request(s) rejected", rejected, len(requests)))
	}
	return nil
}

// builtMachineID maps a fixture machine name to the engine id it was
// created under.
func builtMachineID(built *fixture.Built, name string) (string, error) {
	id, ok := built.MachineID(name)
	if !ok {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("machine %q was not built from the fixture", name))
	}
	return id, nil
}

// fire dispenses every beverage concurrently and returns results in
// request order.
func fire(ctx context.Context, eng *engine.Engine, machineID string, beverages []string, timeout time.Duration) []RequestResult {
	results := make([]RequestResult, len(beverages))

	var g errgroup.Group
	for i, bev := range beverages {
		g.Go(func() error {
			reqCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				reqCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			notes, err := eng.Dispense(reqCtx, machineID, bev)
			results[i] = RequestResult{Beverage: bev, Outcome: store.OutcomeOK, Notifications: notes}
			if err != nil {
				results[i].Outcome = outcomeOf(err)
				results[i].Message = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// outcomeOf names a dispense error: the engine code, "timeout" or "canceled".
func outcomeOf(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func printDispense(formatter *OutputFormatter, result DispenseResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "Machine %s (%s)\n", result.Machine, result.MachineID)
	for _, r := range result.Requests {
		if r.Outcome == store.OutcomeOK {
			fmt.Fprintf(w, "✓ %s is prepared\n", r.Beverage)
		} else {
			fmt.Fprintf(w, "✗ %s: %s\n", r.Beverage, r.Message)
		}
		for _, n := range r.Notifications {
			fmt.Fprintf(w, "  ! low on %s (%s left, threshold %s)\n", n.Ingredient, n.Remaining.String(), n.Threshold.String())
		}
	}

	fmt.Fprintln(w, "Stock:")
	for _, line := range sortedPairs(result.Stock) {
		fmt.Fprintf(w, "  %s\n", line)
	}

	if len(result.Metrics) > 0 {
		fmt.Fprintln(w, "Metrics:")
		for _, m := range result.Metrics {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
}

func sortedPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+": "+v)
	}
	slices.Sort(out)
	return out
}
