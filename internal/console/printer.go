package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/leonardotrapani/callscribe/internal/conversation"
	"github.com/leonardotrapani/callscribe/internal/dispatch"
	"github.com/leonardotrapani/callscribe/internal/pipeline"
)

type styles struct {
	header   lipgloss.Style
	agent    lipgloss.Style
	customer lipgloss.Style
	response lipgloss.Style
	err      lipgloss.Style
	muted    lipgloss.Style
	box      lipgloss.Style
	label    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:   r.NewStyle().Bold(true).Foreground(ColorPrimary),
		agent:    r.NewStyle().Foreground(ColorSecondary).Bold(true),
		customer: r.NewStyle().Foreground(ColorWarning).Bold(true),
		response: r.NewStyle().Foreground(ColorSuccess),
		err:      r.NewStyle().Foreground(ColorError).Bold(true),
		muted:    r.NewStyle().Foreground(ColorMuted),
		box:      r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorSubtle).Padding(0, 1),
		label:    r.NewStyle().Foreground(ColorText).Bold(true),
	}
}

// Printer echoes every dispatched batch and the sink's answer to a terminal.
// Colour is used only when the output supports it.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
}

func NewPrinter(w io.Writer) *Printer {
	output := termenv.NewOutput(w)
	renderer := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	renderer.SetColorProfile(output.EnvColorProfile())
	return &Printer{out: w, styles: newStyles(renderer)}
}

// NewPlainPrinter never emits escape sequences.
func NewPlainPrinter(w io.Writer) *Printer {
	renderer := lipgloss.NewRenderer(w)
	renderer.SetColorProfile(termenv.Ascii)
	return &Printer{out: w, styles: newStyles(renderer)}
}

func (p *Printer) speaker(label conversation.Label) lipgloss.Style {
	if label == conversation.Customer {
		return p.styles.customer
	}
	return p.styles.agent
}

// Dispatched implements dispatch.Observer.
func (p *Printer) Dispatched(batch conversation.Batch, result dispatch.Result, err error, took time.Duration) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n",
		p.styles.header.Render("Conversation batch"),
		p.styles.muted.Render(fmt.Sprintf("(%d lines, %s)", batch.Len(), batch.Reason)))
	for _, line := range batch.Lines {
		fmt.Fprintf(&b, "%s %s\n", p.speaker(line.Label).Render(line.Label.String()+":"), line.Text)
	}

	var footer string
	if err != nil {
		footer = p.styles.err.Render("Error: ") + err.Error()
	} else {
		footer = p.styles.label.Render("Response: ") + p.styles.response.Render(result.Response)
	}
	footer += " " + p.styles.muted.Render(took.Round(time.Millisecond).String())

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.styles.box.Render(strings.TrimRight(b.String(), "\n")+"\n"+footer))
}

// Status renders a pipeline snapshot for the status command.
func (p *Printer) Status(snap pipeline.Snapshot, stats dispatch.Stats) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n",
		p.styles.header.Render("callscribe"),
		p.styles.label.Render(string(snap.Status)),
		p.styles.muted.Render("since "+snap.Since.Format(time.TimeOnly)))
	for _, ch := range snap.Channels {
		style := p.speaker(conversation.Label(ch.Label))
		fmt.Fprintf(&b, "%-10s chunks=%d transcripts=%d service_errors=%d send_errors=%d buffered=%d dropped=%d\n",
			style.Render(ch.Label), ch.Chunks, ch.Transcripts, ch.ServiceErrors, ch.SendErrors, ch.Buffered, ch.Dropped)
	}
	fmt.Fprintf(&b, "pending %d/%d, batches flushed %d, delivered %d, failed %d, dropped %d",
		snap.Pending, snap.Threshold, snap.Flushed, stats.Dispatched, stats.Failed, stats.Dropped)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, b.String())
}
