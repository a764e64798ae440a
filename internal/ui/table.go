package ui

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// NewTable returns a rounded table writing to w
func NewTable(w io.Writer, headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	if !UseColor() {
		t.Style().Color = table.ColorOptions{}
	}
	t.AppendHeader(table.Row(headers))
	return t
}

// Paint colors s when colored output is enabled
func Paint(s string, c text.Color) string {
	if !UseColor() {
		return s
	}
	return c.Sprint(s)
}
