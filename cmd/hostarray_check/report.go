// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = humanize.Comma(int64(v))
	}
	return strings.Join(parts, " x ")
}

// report renders the result of a check.
func report(res *Result) string {
	cfg := res.Config
	table := newPlainTable().Headers("", "Value")
	batchAxes := "all"
	if len(cfg.BatchAxes) > 0 {
		batchAxes = strings.Join(cfg.BatchAxes, ",")
	}
	table.Row("cluster", res.ClusterID)
	table.Row("mesh", fmt.Sprintf("%s (%s)", joinInts(cfg.Mesh), strings.Join(cfg.Axes, ",")))
	table.Row("# devices", humanize.Comma(int64(res.NumDevices)))
	table.Row("# processes", humanize.Comma(int64(cfg.Processes)))
	table.Row("partition", cfg.Partition.String())
	table.Row("batch axes", batchAxes)
	table.Row("global batch", humanize.Comma(int64(cfg.Batch)))
	table.Row("process batch", humanize.Comma(int64(res.ProcessBatch)))
	table.Row("# leaves", humanize.Comma(int64(res.NumLeaves)))
	table.Row("host bytes / process", humanize.Bytes(uint64(res.HostMemory)))
	table.Row("global bytes", humanize.Bytes(uint64(res.GlobalMemory)))
	table.Row("steps", humanize.Comma(int64(cfg.Steps)))
	table.Row("elapsed", res.Elapsed.String())
	return titleStyle.Render("Round trip check passed") + "\n" + table.Render()
}

// progress displays a progress bar on the terminal over the check steps.
type progress struct {
	bar     *progressbar.ProgressBar
	termenv *termenv.Output
}

func newProgress(numSteps int) *progress {
	p := &progress{termenv: termenv.NewOutput(os.Stderr)}
	p.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("Round trips"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	p.termenv.HideCursor()
	return p
}

func (p *progress) onStep(_ int) {
	_ = p.bar.Add(1)
}

func (p *progress) done() {
	_ = p.bar.Finish()
	p.termenv.ShowCursor()
}
