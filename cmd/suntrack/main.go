package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/MikeHennessy/suntrack/internal/app"
	"github.com/MikeHennessy/suntrack/internal/cliconfig"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

const helpDescription = `
Drive the solar tracker's linear actuators over I2C.

Commands go through a TCA9548A channel multiplexer to the actuator
controller, wait for its "OK", and only then update the position ledger.
Configure via file ($HOME/.suntrack/config.toml), SUNTRACK_* env, or flags.
`

var exampleUsage = strings.TrimSpace(`
  suntrack move 1 15.5
  suntrack sequence 1:15.5 2:-10.2 1:0 --gap 1s
  suntrack position
  suntrack reset --set 1=0 --set 2=0
  suntrack scan 7
  suntrack serve --simulate --listen 127.0.0.1:8510
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration and loggers to every subcommand.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	changed map[string]bool
	log     zerolog.Logger
}

// loadConfig resolves flag > env > file > default precedence, validates
// the result and installs the configured log level.
func (c *cli) loadConfig(cmd *cobra.Command) error {
	cfgFile := c.configFile()

	c.changed = map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { c.changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, c.changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&c.cfg, c.changed); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	l, err := cliconfig.Logger(c.cfg.LogLevel)
	c.log = l
	if err != nil {
		c.log.Warn().Err(err).Msg("using info level")
	}
	c.log.Debug().Interface("config", c.cfg).Str("file", cfgFile).Msg("configuration")
	return nil
}

func (c *cli) configFile() string {
	if c.cfgPath != "" {
		return c.cfgPath
	}
	return cliconfig.DefaultConfigPath()
}

// closeRig deselects the mux and closes the bus, logging any failure. The
// command's own result is already decided by then.
func (c *cli) closeRig(rig *app.Rig) {
	if err := rig.Close(); err != nil {
		c.log.Warn().Err(err).Msg("close rig")
	}
}

// adapter returns the library logger.
func (c *cli) adapter() log.Logger {
	return log.NewZerologAdapterWithLogger(c.log)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "suntrack",
		Short:         "Drive the solar tracker's linear actuators over I2C",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.suntrack/config.toml)")
	f.StringVar(&c.cfg.Bus, "bus", c.cfg.Bus, "I2C bus name or number")
	f.IntVar(&c.cfg.BusSpeedKHz, "bus-speed", c.cfg.BusSpeedKHz, "I2C clock in kHz (0 keeps the driver default)")
	f.BoolVar(&c.cfg.Simulate, "simulate", c.cfg.Simulate, "use the in-process simulated rig instead of hardware")
	f.Uint16Var(&c.cfg.MuxAddress, "mux-addr", c.cfg.MuxAddress, "channel multiplexer address")
	f.Uint16Var(&c.cfg.ControllerAddress, "controller-addr", c.cfg.ControllerAddress, "actuator controller address")
	f.StringVar(&c.cfg.ByteOrder, "byte-order", c.cfg.ByteOrder, "command frame byte order (big or little)")
	f.DurationVar(&c.cfg.SettleDelay, "settle", c.cfg.SettleDelay, "delay after a channel select (minimum 1ms)")
	f.DurationVar(&c.cfg.AckTimeout, "ack-timeout", c.cfg.AckTimeout, "deadline for the controller's acknowledgment")
	f.DurationVar(&c.cfg.PollInterval, "poll", c.cfg.PollInterval, "interval between acknowledgment reads")
	f.StringVar(&c.cfg.LedgerPath, "ledger", c.cfg.LedgerPath, "position ledger file (default: $HOME/.suntrack/positions.json, positions.sim.json with --simulate)")
	f.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(
		newMoveCmd(c),
		newSequenceCmd(c),
		newPositionCmd(c),
		newResetCmd(c),
		newScanCmd(c),
		newServeCmd(c),
	)
	return root
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig()}
	c.log, _ = cliconfig.Logger("info")

	if err := newRootCmd(c).ExecuteContext(context.Background()); err != nil {
		c.log.Error().Err(err).Msg("suntrack")
		os.Exit(1)
	}
}
