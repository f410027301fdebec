package main

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"avaneesh/uds-go/internal/config"
	"avaneesh/uds-go/pkg/channel"
	"avaneesh/uds-go/pkg/diag"
	"avaneesh/uds-go/pkg/ecu"
	"avaneesh/uds-go/pkg/trace"
)

const demoSeed = 0xCAFEBABE

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Run an ECU and a tester in one process over an in-memory bus",
		Flags: []cli.Flag{
			configFlag, levelFlag,
			&cli.IntFlag{Name: "image-size", Value: 4096, Usage: "Size of the generated flash image"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if lvl := c.String("level"); lvl != "" {
				cfg.Log.Level = lvl
			}
			level, err := diag.ParseLogLevel(cfg.Log.Level)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			diag.SetLogLevel(level)

			res, err := runDemo(c.Context, cfg, demoImage(c.Int("image-size")))
			if res != nil {
				fmt.Fprintln(c.App.Writer, res.scenario.Render())
				fmt.Fprintln(c.App.Writer, res.flash.Render())
				fmt.Fprintln(c.App.Writer, renderEvents("ECU trace", res.events))
			}
			if err != nil {
				return err
			}
			if res.scenario.failed()+res.flash.failed() > 0 {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// demoResult holds the reports of a demo run and the ECU's trace
type demoResult struct {
	scenario *report
	flash    *report
	events   []trace.Event
	flashed  []string
}

// runDemo wires an ECU and a tester to the two ends of a bridge, walks the
// diagnostic sequence and downloads image
func runDemo(ctx context.Context, cfg *config.Config, image []byte) (*demoResult, error) {
	br := channel.NewBridge(time.Millisecond)
	ecuEnd, testerEnd := br.Ends()

	manager := diag.NewManager()
	defer manager.Shutdown()

	ecuBus, err := manager.AddChannel("ecu", ecuEnd)
	if err != nil {
		br.Close()
		return nil, err
	}
	testerBus, err := manager.AddChannel("tester", testerEnd)
	if err != nil {
		return nil, err
	}

	ec := cfg.ECUConfig()
	if cfg.ECU.FixedSeed == nil {
		ec.Engine.Seed = ecu.FixedSeed(demoSeed)
	}
	mem := &trace.Memory{}
	node, err := ecuBus.AddECU(ec, cfg.Database(), mem)
	if err != nil {
		return nil, err
	}
	t, err := testerBus.AddTester(cfg.TesterConfig())
	if err != nil {
		return nil, err
	}

	res := &demoResult{
		scenario: &report{title: "Diagnostic run: " + ec.ID},
		flash:    &report{title: fmt.Sprintf("Flash: %d byte image", len(image))},
	}
	err = diag.RunWith(ctx, func(ctx context.Context) error {
		runScenario(ctx, t, res.scenario)
		return runFlash(ctx, t, res.flash, ec.Engine.DefaultDownloadAddress, image)
	}, node)

	res.events = mem.Events()
	for _, img := range node.FlashImages() {
		res.flashed = append(res.flashed, img.String())
	}
	return res, err
}

// demoImage returns a recognizable image of n bytes
func demoImage(n int) []byte {
	return bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, (n+3)/4)[:n]
}
