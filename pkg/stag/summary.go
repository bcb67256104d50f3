package stag

import (
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// Summary collects the outcomes of a run.
type Summary struct {
	Outcomes []Outcome
}

// Add records an outcome.
func (s *Summary) Add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
}

// Count returns the number of outcomes with status st.
func (s *Summary) Count(st Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (s *Summary) Failures() []Outcome {
	fs := []Outcome{}
	for _, o := range s.Outcomes {
		if o.Status == Failed {
			fs = append(fs, o)
		}
	}
	return fs
}

// Render writes a human-readable table of the run to w.
func (s *Summary) Render(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	if isTerminal(w) {
		tw.SetStyle(table.StyleColoredBright)
	}

	tw.AppendHeader(table.Row{"Status", "Files"})
	for _, st := range []Status{Tagged, Skipped, Failed} {
		tw.AppendRow(table.Row{st.String(), s.Count(st)})
	}
	tw.AppendFooter(table.Row{"total", len(s.Outcomes)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	tw.Render()

	fs := s.Failures()
	if len(fs) == 0 {
		return
	}

	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleRounded)
	ft.AppendHeader(table.Row{"Failed", "Reason"})
	for _, o := range fs {
		ft.AppendRow(table.Row{o.Path, strings.TrimSpace(o.Reason)})
	}
	ft.Render()
}

// String renders the summary without color.
func (s *Summary) String() string {
	var b strings.Builder
	s.Render(&b)
	return b.String()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
