package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Gelotto/faceswap-client/internal/models"
	"github.com/Gelotto/faceswap-client/internal/result"
	"github.com/Gelotto/faceswap-client/internal/session"
)

// renderTable draws a rounded table. Each row is padded or cut to the header width.
func renderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(tableRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(tableRow(row, len(headers)))
	}
	return tw.Render()
}

func tableRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	return row
}

// renderJob renders one snapshot as a two-column table
func renderJob(job *models.Job) string {
	rows := [][]string{
		{"Job", job.ID},
		{"Status", statusLabel(string(job.Status))},
		{"Mode", string(job.Mode)},
		{"Target", string(job.TargetKind)},
		{"Progress", fmt.Sprintf("%d%%", job.ProgressValue())},
		{"Stage", job.StageValue()},
		{"Source uploaded", yesNo(job.SourceUploaded)},
		{"Target uploaded", yesNo(job.TargetUploaded)},
		{"Result ready", yesNo(job.ResultReady)},
	}
	if job.Error != "" {
		rows = append(rows, []string{"Error", job.Error})
	}
	return renderTable([]string{"Field", "Value"}, rows)
}

// statusLabel turns "waiting_source" into "Waiting Source"
func statusLabel(s string) string {
	if s == "" {
		return "Unknown"
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(s, "_", " "))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// console prints session status lines and saved results
type console struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) DisplayChanged(session.Display) {}

func (c *console) StatusText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == c.last {
		return
	}
	c.last = text
	fmt.Fprintln(c.w, text)
}

func (c *console) ShowResult(d result.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s result saved to %s (%d bytes)\n", statusLabel(string(d.Kind)), d.Path, d.Size)
}
