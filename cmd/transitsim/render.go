package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/pipeline"
)

// printer renders command output as styled text or JSON. Colors are used
// only when w is a terminal and NO_COLOR is unset.
type printer struct {
	w      io.Writer
	format constants.Format

	title  lipgloss.Style
	key    lipgloss.Style
	header lipgloss.Style
	border lipgloss.Style
}

func newPrinter(w io.Writer, format constants.Format) *printer {
	r := lipgloss.NewRenderer(w)
	if !isTerminal(w) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return &printer{
		w:      w,
		format: format,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		key:    r.NewStyle().Foreground(lipgloss.Color("241")),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		border: r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// JSON writes v as indented JSON.
func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Title writes a bold heading line.
func (p *printer) Title(format string, args ...any) {
	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf(format, args...)))
}

// Field writes an indented "name  value" line.
func (p *printer) Field(name string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.key.Render(fmt.Sprintf("%-20s", name)), value)
}

// Table writes rows under headers with a rounded border.
func (p *printer) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(p.w, t.Render())
}

func rate(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Summary writes the KPIs and the per-gate and per-stage tallies.
func (p *printer) Summary(s metrics.Summary) {
	p.Field("transition rate", rate(s.TransitionRate))
	p.Field("attempts", s.Attempts)
	p.Field("transitions", s.Transitions)
	p.Field("avg cycle time", fmt.Sprintf("%.1f ticks", s.AvgCycleTime))
	p.Field("median cycle time", fmt.Sprintf("%.1f ticks", s.MedianCycleTime))
	p.Field("diffusion speed", fmt.Sprintf("%s per tick", rate(s.DiffusionSpeed)))
	fmt.Fprintln(p.w)

	var gates [][]string
	for _, g := range models.Gates() {
		t, ok := s.Gates[string(g)]
		if !ok {
			continue
		}
		gates = append(gates, tallyRow(string(g), t))
	}
	if len(gates) > 0 {
		p.Table([]string{"GATE", "PASS", "FAIL", "RATE"}, gates)
	}

	var stages [][]string
	for _, st := range models.Stages() {
		t, ok := s.Stages[st.String()]
		if !ok {
			continue
		}
		stages = append(stages, tallyRow(st.String(), t))
	}
	if len(stages) > 0 {
		p.Table([]string{"STAGE", "PASS", "FAIL", "RATE"}, stages)
	}

	if len(s.LegalOutcomes) > 0 {
		keys := make([]string, 0, len(s.LegalOutcomes))
		for k := range s.LegalOutcomes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, strconv.Itoa(s.LegalOutcomes[k])})
		}
		p.Table([]string{"LEGAL OUTCOME", "COUNT"}, rows)
	}
}

func tallyRow(name string, t metrics.Tally) []string {
	return []string{name, strconv.Itoa(t.Pass), strconv.Itoa(t.Fail), rate(t.Rate())}
}

// Entity writes the state of one research entity.
func (p *printer) Entity(st pipeline.State) {
	p.Title("Entity %s", st.ID)
	if st.ProgramID != "" {
		p.Field("program", st.ProgramID)
	}
	p.Field("stage", st.Stage)
	p.Field("TRL", st.TRL)
	p.Field("status", st.Status)
	p.Field("legal review", st.Legal)
	p.Field("quality", rate(st.Quality))
	p.Field("attempts", st.Attempts)
	p.Field("transitions", st.Transitions)
	p.Field("transition rate", rate(st.TransitionRate))
}
