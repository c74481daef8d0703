package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"sandprobe/internal/protocol"
)

// Printer reports probe progress to the operator
type Printer interface {
	Connected(url string)
	Sent(payload []byte)
	Received(n int, payload []byte)
	TimedOut(after time.Duration)
	Completed(msg *protocol.Inbound)
	Error(err error)
}

// ConsolePrinter writes human-readable lines, not meant for machine parsing
type ConsolePrinter struct {
	w      io.Writer
	pretty bool

	ok   *color.Color
	out  *color.Color
	in   *color.Color
	warn *color.Color
	bad  *color.Color
}

// NewConsolePrinter writes to w. colored=false strips ANSI codes; pretty indents JSON frames.
func NewConsolePrinter(w io.Writer, colored, pretty bool) *ConsolePrinter {
	p := &ConsolePrinter{
		w:      w,
		pretty: pretty,
		ok:     color.New(color.FgGreen),
		out:    color.New(color.FgCyan),
		in:     color.New(color.FgWhite),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed, color.Bold),
	}
	if !colored {
		for _, c := range []*color.Color{p.ok, p.out, p.in, p.warn, p.bad} {
			c.DisableColor()
		}
	}
	return p
}

func (p *ConsolePrinter) Connected(url string) {
	p.ok.Fprintf(p.w, "✅ Connected to %s\n", url)
}

func (p *ConsolePrinter) Sent(payload []byte) {
	p.out.Fprintf(p.w, "📤 Sent: %s\n", p.format(payload))
}

func (p *ConsolePrinter) Received(n int, payload []byte) {
	p.in.Fprintf(p.w, "📥 Received [%d]: %s\n", n, p.format(payload))
}

func (p *ConsolePrinter) TimedOut(after time.Duration) {
	p.warn.Fprintf(p.w, "⏰ Timeout waiting for response (%s)\n", after)
}

func (p *ConsolePrinter) Completed(msg *protocol.Inbound) {
	if msg.Succeeded() {
		p.ok.Fprintln(p.w, "✅ Plugin execution completed!")
		return
	}
	reason := msg.Error
	if reason == "" {
		reason = "no error message"
	}
	p.bad.Fprintf(p.w, "❌ Plugin execution finished with an error: %s\n", reason)
}

func (p *ConsolePrinter) Error(err error) {
	p.bad.Fprintf(p.w, "Error: %v\n", err)
}

// format indents JSON payloads when pretty is on; anything else is printed as is
func (p *ConsolePrinter) format(payload []byte) string {
	if !p.pretty {
		return string(payload)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return fmt.Sprintf("\n%s", buf.String())
}
