package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/stackwire/internal/stack"
	"github.com/danmuck/stackwire/internal/value"
	"github.com/pterm/pterm"
)

const (
	outputTable = "table"
	outputPlain = "plain"
)

// render writes rows under header. Plain output is tab separated with no header so it
// pipes cleanly into cut and awk.
func (a *app) render(w io.Writer, header []string, rows [][]string) error {
	if a.cfg.Output == outputPlain {
		for _, r := range rows {
			fmt.Fprintln(w, strings.Join(r, "\t"))
		}
		return nil
	}
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, header)
	data = append(data, rows...)
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out)
	return nil
}

// renderValue prints a call result. Tables become one row per table row; everything else
// prints its readable form on one line.
func (a *app) renderValue(w io.Writer, v value.Value) error {
	if v.Type() != value.TypeTable || v.IsNull() {
		fmt.Fprintln(w, v.String())
		return nil
	}
	tbl := v.Table()
	header := make([]string, len(tbl.Fields))
	for i, f := range tbl.Fields {
		header[i] = f.Name
	}
	rows := make([][]string, len(tbl.Rows))
	for r, row := range tbl.Rows {
		cells := make([]string, len(row))
		for c, cell := range row {
			cells[c] = cell.String()
		}
		rows[r] = cells
	}
	return a.render(w, header, rows)
}

func signature(p stack.Procedure) string {
	params := make([]string, len(p.Params))
	for i, d := range p.Params {
		params[i] = d.String()
	}
	sig := p.Name + "(" + strings.Join(params, ", ") + ")"
	if p.Return.Type != value.TypeUndefined {
		sig += " " + p.Return.String()
	}
	return sig
}

func heading(s string) string {
	return pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(s)
}
