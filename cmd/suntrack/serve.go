package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeHennessy/suntrack/internal/api"
	"github.com/MikeHennessy/suntrack/internal/app"
	"github.com/MikeHennessy/suntrack/internal/cliconfig"
	"github.com/MikeHennessy/suntrack/internal/link"
	"github.com/MikeHennessy/suntrack/plugins/configwatcher"
)

func newServeCmd(c *cli) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API and websocket position feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			logger := c.adapter()
			rig, err := app.BuildRig(ctx, c.cfg, logger)
			if err != nil {
				return err
			}
			defer c.closeRig(rig)

			dispatcher := app.NewDispatcher(rig.Link, logger)
			server := api.New(dispatcher, rig.Ledger, dispatcher, rig.Actuators, logger)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return dispatcher.Run(ctx) })
			g.Go(func() error { return server.ListenAndServe(ctx, c.cfg.Listen) })

			cfgFile := c.configFile()
			if !noWatch && cfgFile != "" && cliconfig.FileExists(cfgFile) {
				watcher := configwatcher.New(cfgFile, c.reloader(cfgFile, rig.Link),
					configwatcher.WithLogger(logger),
				)
				g.Go(func() error { return watcher.Run(ctx) })
			}

			c.log.Info().
				Str("listen", c.cfg.Listen).
				Bool("simulate", c.cfg.Simulate).
				Int("actuators", len(rig.Actuators)).
				Msg("serving")

			err = g.Wait()
			c.log.Info().Msg("stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&c.cfg.Listen, "listen", c.cfg.Listen, "control API address")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload timing when the config file changes")
	return cmd
}

// reloader re-resolves the configuration with the original flag precedence
// and hot-applies the link timing. Other settings need a restart.
func (c *cli) reloader(cfgFile string, l *link.Link) configwatcher.ReloadFunc {
	return func(ctx context.Context) error {
		next := c.cfg
		next.Actuators = append([]cliconfig.ActuatorConfig(nil), c.cfg.Actuators...)

		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&next, fc, c.changed); err != nil {
			return err
		}
		if err := cliconfig.ApplyEnvConfig(&next, c.changed); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}

		if next.Bus != c.cfg.Bus || next.MuxAddress != c.cfg.MuxAddress ||
			next.ControllerAddress != c.cfg.ControllerAddress || next.ByteOrder != c.cfg.ByteOrder ||
			next.LedgerPath != c.cfg.LedgerPath || next.Listen != c.cfg.Listen {
			c.log.Warn().Msg("config change beyond timing ignored until restart")
		}

		t := next.Timing()
		if t == l.Timing() {
			return nil
		}
		l.SetTiming(t)
		return nil
	}
}
