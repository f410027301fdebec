// Package main provides the udsecu ECU simulator.
//
// Usage:
//
//	udsecu serve [--config uds.yaml] [--level debug] [--trace ecu.trace]
//	udsecu config
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"avaneesh/uds-go/internal/config"
	"avaneesh/uds-go/pkg/diag"
	"avaneesh/uds-go/pkg/trace"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "udsecu",
		Usage:          "Simulated engine controller answering UDS over ISO-TP",
		Version:        commit,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			serveCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve diagnostic requests on the configured bus",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "level", Usage: "Log level override: debug, info, warn, error"},
			&cli.StringFlag{Name: "trace", Usage: "Write msgpack trace events to this file"},
			&cli.StringFlag{Name: "address", Usage: "Bus address override (tcp, udp, quic)"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if lvl := c.String("level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if addr := c.String("address"); addr != "" {
		cfg.Bus.Address = addr
	}
	if path := c.String("trace"); path != "" {
		cfg.Trace.File = path
	}
	// The simulator is the listening side of connection-oriented buses
	cfg.Bus.Listen = true

	level, err := diag.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	diag.SetLogLevel(level)
	log := diag.DefaultLogger()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := trace.Multi{trace.NewLogSink(log, cfg.ECU.ID)}
	var recorder *trace.Recorder
	if cfg.Trace.File != "" {
		f, err := os.Create(cfg.Trace.File)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer f.Close()
		recorder = trace.NewRecorder(f)
		sinks = append(sinks, recorder)
	}

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

	node, err := bus.AddECU(cfg.ECUConfig(), cfg.Database(), sinks)
	if err != nil {
		return err
	}

	log.Info("udsecu %s: %s bus %s, request 0x%X, response 0x%X",
		cfg.ECU.ID, cfg.Bus.Kind, busName(cfg), cfg.Endpoints.RequestID, cfg.Endpoints.ResponseID)

	if err := diag.Serve(ctx, node); err != nil {
		return err
	}

	for _, img := range node.FlashImages() {
		log.Info("flashed %s", img)
	}
	if recorder != nil {
		if err := recorder.Err(); err != nil {
			log.Warn("trace incomplete: %v", err)
		}
	}
	return nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration as YAML",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = c.App.Writer.Write(out)
			return err
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func busName(cfg *config.Config) string {
	switch cfg.Bus.Kind {
	case config.BusSerial:
		return cfg.Bus.SerialPort
	case config.BusSocketCAN:
		return cfg.Bus.Interface
	default:
		return cfg.Bus.Address
	}
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
