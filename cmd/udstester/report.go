package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"avaneesh/uds-go/pkg/ecu"
	"avaneesh/uds-go/pkg/tester"
	"avaneesh/uds-go/pkg/trace"
	"avaneesh/uds-go/pkg/uds"
)

// step is one line of a diagnostic report
type step struct {
	name    string
	detail  string
	err     error
	elapsed time.Duration
}

// report collects the outcome of a diagnostic run
type report struct {
	title string
	steps []step
}

// do runs fn as a named step. fn returns the text shown on success.
func (r *report) do(name string, fn func() (string, error)) error {
	start := time.Now()
	detail, err := fn()
	r.steps = append(r.steps, step{name: name, detail: detail, err: err, elapsed: time.Since(start)})
	return err
}

// failed returns the number of failed steps
func (r *report) failed() int {
	n := 0
	for _, s := range r.steps {
		if s.err != nil {
			n++
		}
	}
	return n
}

// Render draws the report as a bordered table
func (r *report) Render() string {
	var lines []string
	for _, s := range r.steps {
		status := okStyle.Render("OK  ")
		detail := s.detail
		if s.err != nil {
			var nrc *uds.NegativeResponseError
			if errors.As(s.err, &nrc) {
				status = warnStyle.Render("NRC ")
			} else {
				status = failStyle.Render("FAIL")
			}
			detail = s.err.Error()
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			status, " ",
			labelStyle.Render(s.name),
			detail,
			lipgloss.NewStyle().Foreground(mutedColor).Render(fmt.Sprintf("  %s", s.elapsed.Round(time.Millisecond))),
		))
	}

	summary := okStyle.Render(fmt.Sprintf("%d steps passed", len(r.steps)))
	if n := r.failed(); n > 0 {
		summary = failStyle.Render(fmt.Sprintf("%d of %d steps failed", n, len(r.steps)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(r.title),
		boxStyle.Render(strings.Join(lines, "\n")),
		summary,
	)
}

// runScenario walks the diagnostic sequence of a workshop session:
// extended session, unlock, identification, fault memory, then a soft reset.
// Negative responses are recorded and the walk continues.
func runScenario(ctx context.Context, t *tester.Tester, rep *report) {
	rep.do("DiagnosticSessionControl", func() (string, error) {
		return "extended session", t.DiagnosticSessionControl(ctx, uds.SessionExtended)
	})
	rep.do("SecurityAccess", func() (string, error) {
		return "unlocked", t.Unlock(ctx)
	})
	rep.do("ReadDataByIdentifier F190", func() (string, error) {
		vin, err := t.ReadVIN(ctx)
		return fmt.Sprintf("VIN %s", vin), err
	})
	rep.do("ReadDataByIdentifier F18C", func() (string, error) {
		sn, err := t.ReadDataByIdentifier(ctx, uds.DIDECUSerial)
		return fmt.Sprintf("serial %s", sn), err
	})

	const mask = ecu.StatusConfirmedDTC
	rep.do("ReadDTCInformation 01", func() (string, error) {
		n, err := t.ReadDTCCount(ctx, mask)
		return fmt.Sprintf("%d confirmed DTCs", n), err
	})

	var dtcs []tester.DTCRecord
	rep.do("ReadDTCInformation 02", func() (string, error) {
		var err error
		dtcs, err = t.ReadDTCsByStatus(ctx, mask)
		parts := make([]string, 0, len(dtcs))
		for _, d := range dtcs {
			parts = append(parts, fmt.Sprintf("%s [%s]", ecu.FormatDTC(d.Code), ecu.StatusString(d.Status)))
		}
		return strings.Join(parts, ", "), err
	})

	for _, d := range dtcs {
		d := d
		rep.do("ReadDTCInformation 04 "+ecu.FormatDTC(d.Code), func() (string, error) {
			values, err := t.ReadSnapshot(ctx, d.Code, ecu.SnapshotRecordAll)
			return formatValues(values), err
		})
		rep.do("ReadDTCInformation 06 "+ecu.FormatDTC(d.Code), func() (string, error) {
			values, err := t.ReadExtendedData(ctx, d.Code, ecu.ExtendedRecordOccurrence)
			return formatValues(values), err
		})
	}

	rep.do("TesterPresent", func() (string, error) {
		return "alive", t.TesterPresent(ctx)
	})
	rep.do("ECUReset soft", func() (string, error) {
		return "reset", t.ECUReset(ctx, uds.ResetSoft)
	})
}

// runFlash unlocks the ECU and downloads image
func runFlash(ctx context.Context, t *tester.Tester, rep *report, addr uint32, image []byte) error {
	if err := rep.do("DiagnosticSessionControl", func() (string, error) {
		return "programming session", t.DiagnosticSessionControl(ctx, uds.SessionProgramming)
	}); err != nil {
		return err
	}
	if err := rep.do("SecurityAccess", func() (string, error) {
		return "unlocked", t.Unlock(ctx)
	}); err != nil {
		return err
	}
	return rep.do("Download", func() (string, error) {
		return fmt.Sprintf("%d bytes to 0x%08X", len(image), addr), t.Download(ctx, addr, image)
	})
}

func formatValues(values []tester.DataValue) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%02X=%d", v.ID, v.Value))
	}
	return strings.Join(parts, " ")
}

// renderEvents draws trace events, one per line
func renderEvents(title string, events []trace.Event) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		style := lipgloss.NewStyle()
		switch ev.Kind {
		case trace.KindNegative, trace.KindFraming:
			style = warnStyle
		case trace.KindSecurity, trace.KindDownload, trace.KindSession:
			style = okStyle
		}
		lines = append(lines, fmt.Sprintf("%s  %s",
			lipgloss.NewStyle().Foreground(mutedColor).Render(ev.Time.Format("15:04:05.000")),
			style.Render(ev.String())))
	}
	if len(lines) == 0 {
		lines = append(lines, "no events")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		boxStyle.Render(strings.Join(lines, "\n")),
	)
}
