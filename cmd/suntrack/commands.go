package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeHennessy/suntrack/internal/app"
	"github.com/MikeHennessy/suntrack/internal/chanmux"
	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ledger"
)

// step is one move of a sequence.
type step struct {
	ID      domain.ActuatorID
	DeltaMM float64
}

// defaultSequence is the rig's bench demo.
var defaultSequence = []step{{1, 15.5}, {2, -10.2}, {1, 0}}

func parseActuatorID(s string) (domain.ActuatorID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("actuator id %q: %w", s, domain.ErrUnknownActuator)
	}
	return domain.ActuatorID(n), nil
}

// parsePair splits "id<sep>value", e.g. "1:15.5" or "2=-3".
func parsePair(s, sep string) (domain.ActuatorID, float64, error) {
	idStr, valStr, ok := strings.Cut(s, sep)
	if !ok {
		return 0, 0, fmt.Errorf("%q: want id%svalue", s, sep)
	}
	id, err := parseActuatorID(idStr)
	if err != nil {
		return 0, 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(valStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	return id, v, nil
}

func printResult(w io.Writer, res domain.MoveResult) {
	fmt.Fprintf(w, "actuator %d: moved %+g mm, position %g mm (%d polls, %s)\n",
		res.Command.Actuator, res.Command.DeltaMM, res.PositionMM, res.Polls, res.Elapsed.Round(time.Millisecond))
}

// signalContext is cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newMoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "move <actuator> <delta-mm>",
		Short: "Move one actuator by a signed increment and wait for the controller's ack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseActuatorID(args[0])
			if err != nil {
				return err
			}
			delta, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("delta %q: %w", args[1], err)
			}

			ctx, cancel := signalContext()
			defer cancel()
			rig, err := app.BuildRig(ctx, c.cfg, c.adapter())
			if err != nil {
				return err
			}
			defer c.closeRig(rig)

			res, err := rig.Link.Move(ctx, id, delta)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newSequenceCmd(c *cli) *cobra.Command {
	var gap time.Duration
	cmd := &cobra.Command{
		Use:   "sequence [actuator:delta-mm ...]",
		Short: "Run moves in order, one gap apart (default: 1:15.5 2:-10.2 1:0)",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := defaultSequence
			if len(args) > 0 {
				steps = make([]step, 0, len(args))
				for _, a := range args {
					id, d, err := parsePair(a, ":")
					if err != nil {
						return err
					}
					steps = append(steps, step{ID: id, DeltaMM: d})
				}
			}

			ctx, cancel := signalContext()
			defer cancel()
			rig, err := app.BuildRig(ctx, c.cfg, c.adapter())
			if err != nil {
				return err
			}
			defer c.closeRig(rig)

			for i, s := range steps {
				if i > 0 && gap > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(gap):
					}
				}
				res, err := rig.Link.Move(ctx, s.ID, s.DeltaMM)
				if err != nil {
					return fmt.Errorf("step %d of %d: %w", i+1, len(steps), err)
				}
				printResult(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&gap, "gap", time.Second, "pause between moves")
	return cmd
}

func openLedger(ctx context.Context, c *cli) (*ledger.Ledger, error) {
	l := ledger.New(ledger.NewFileRepository(c.cfg.LedgerPath), c.cfg.DomainActuators(), c.adapter())
	if _, err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func newPositionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "position [actuator]",
		Short: "Print last confirmed positions from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger(cmd.Context(), c)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := parseActuatorID(args[0])
				if err != nil {
					return err
				}
				pos, err := l.CurrentPosition(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "actuator %d: %g mm\n", id, pos)
				return nil
			}
			snap := l.Snapshot()
			for _, id := range snap.IDs() {
				fmt.Fprintf(w, "actuator %d: %g mm\n", id, snap[id])
			}
			return nil
		},
	}
}

func newResetCmd(c *cli) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Rewrite the ledger after manual homing (all zero unless --set is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger(cmd.Context(), c)
			if err != nil {
				return err
			}
			positions := domain.Positions{}
			if len(sets) == 0 {
				for _, a := range c.cfg.DomainActuators() {
					positions[a.ID] = 0
				}
			}
			for _, s := range sets {
				id, v, err := parsePair(s, "=")
				if err != nil {
					return err
				}
				positions[id] = v
			}
			if err := l.Persist(cmd.Context(), positions); err != nil {
				return err
			}
			snap := l.Snapshot()
			for _, id := range snap.IDs() {
				fmt.Fprintf(cmd.OutOrStdout(), "actuator %d: %g mm\n", id, snap[id])
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set one actuator, as id=mm (repeatable)")
	return cmd
}

func newScanCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [channel]",
		Short: "List devices answering on one mux channel, or on all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channels := make([]int, 0, chanmux.Channels)
			if len(args) == 1 {
				ch, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("channel %q: %w", args[0], domain.ErrInvalidChannel)
				}
				channels = append(channels, ch)
			} else {
				for ch := 0; ch < chanmux.Channels; ch++ {
					channels = append(channels, ch)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()
			rig, err := app.BuildRig(ctx, c.cfg, c.adapter())
			if err != nil {
				return err
			}
			defer c.closeRig(rig)

			w := cmd.OutOrStdout()
			var errs []error
			for _, ch := range channels {
				found, err := rig.Mux.Scan(ctx, ch)
				if err != nil {
					errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
					continue
				}
				addrs := make([]string, 0, len(found))
				for _, a := range found {
					addrs = append(addrs, fmt.Sprintf("0x%02x", a))
				}
				if len(addrs) == 0 {
					addrs = append(addrs, "-")
				}
				fmt.Fprintf(w, "channel %d: %s\n", ch, strings.Join(addrs, " "))
			}
			return errors.Join(errs...)
		},
	}
}
