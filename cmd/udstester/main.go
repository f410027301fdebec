// Package main provides the udstester diagnostic client.
//
// Usage:
//
//	udstester run   [--config uds.yaml]               walk the workshop diagnostic sequence
//	udstester flash [--config uds.yaml] --file image  unlock and download an image
//	udstester demo                                    ECU and tester in one process
//	udstester replay --trace ecu.trace                print a recorded trace
//	udstester ports                                   list serial ports
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"avaneesh/uds-go/internal/config"
	"avaneesh/uds-go/pkg/channel"
	"avaneesh/uds-go/pkg/diag"
	"avaneesh/uds-go/pkg/tester"
	"avaneesh/uds-go/pkg/trace"
)

// commit is set via ldflags at build time.
var commit = "unknown"

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
	}
	levelFlag = &cli.StringFlag{
		Name:  "level",
		Usage: "Log level override: debug, info, warn, error",
	}
	addressFlag = &cli.StringFlag{
		Name:  "address",
		Usage: "Bus address override (tcp, udp, quic)",
	}
)

func main() {
	app := &cli.App{
		Name:           "udstester",
		Usage:          "UDS diagnostic tester over ISO-TP",
		Version:        commit,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			runCommand(),
			flashCommand(),
			demoCommand(),
			replayCommand(),
			portsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Walk the diagnostic sequence against a remote ECU",
		Flags: []cli.Flag{configFlag, levelFlag, addressFlag},
		Action: func(c *cli.Context) error {
			return withTester(c, func(ctx context.Context, t *tester.Tester) error {
				rep := &report{title: fmt.Sprintf("Diagnostic run: %s", t.ID())}
				runScenario(ctx, t, rep)
				fmt.Fprintln(c.App.Writer, rep.Render())
				if rep.failed() > 0 {
					return cli.Exit("", 1)
				}
				return nil
			})
		},
	}
}

func flashCommand() *cli.Command {
	return &cli.Command{
		Name:  "flash",
		Usage: "Unlock the ECU and download an image",
		Flags: []cli.Flag{
			configFlag, levelFlag, addressFlag,
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Image file", Required: true},
			&cli.Uint64Flag{Name: "at", Usage: "Download address (default: ecu.default_download_address)"},
		},
		Action: func(c *cli.Context) error {
			image, err := os.ReadFile(c.String("file"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return withTester(c, func(ctx context.Context, t *tester.Tester) error {
				addr := uint32(c.Uint64("at"))
				if !c.IsSet("at") {
					addr = currentConfig.ECU.DefaultDownloadAddress
				}
				rep := &report{title: fmt.Sprintf("Flash: %s", c.String("file"))}
				err := runFlash(ctx, t, rep, addr, image)
				fmt.Fprintln(c.App.Writer, rep.Render())
				if err != nil {
					return cli.Exit("", 1)
				}
				return nil
			})
		},
	}
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Print the events of a trace recorded by udsecu --trace",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "trace", Aliases: []string{"t"}, Usage: "Trace file", Required: true},
		},
		Action: func(c *cli.Context) error {
			f, err := os.Open(c.String("trace"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer f.Close()

			events, err := trace.ReadAll(f)
			fmt.Fprintln(c.App.Writer, renderEvents(c.String("trace"), events))
			return err
		},
	}
}

func portsCommand() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "List serial ports usable with bus kind serial",
		Action: func(c *cli.Context) error {
			ports, err := channel.ListSerialPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(c.App.Writer, "no serial ports found")
			}
			for _, p := range ports {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}

// currentConfig is the configuration loaded by withTester
var currentConfig *config.Config

// withTester loads the configuration, connects to the bus and runs fn
// with a tester attached to it
func withTester(c *cli.Context, fn func(ctx context.Context, t *tester.Tester) error) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if addr := c.String("address"); addr != "" {
		cfg.Bus.Address = addr
	}
	if lvl := c.String("level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	cfg.Bus.Listen = false
	currentConfig = cfg

	level, err := diag.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	diag.SetLogLevel(level)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	phys, err := cfg.OpenBus(ctx)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	manager := diag.NewManager()
	defer manager.Shutdown()

	bus, err := manager.AddChannel(cfg.Bus.Kind, phys)
	if err != nil {
		phys.Close()
		return err
	}

	t, err := bus.AddTester(cfg.TesterConfig())
	if err != nil {
		return err
	}
	return fn(ctx, t)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitCoder.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
