package install

import (
	"fmt"
	"io"
	"os"
)

// Printer writes aligned step results for CLI output, coloured when the
// writer is a terminal.
type Printer struct {
	out    io.Writer
	green  string
	red    string
	yellow string
	reset  string
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	p := &Printer{out: out}
	if f, ok := out.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			p.green, p.red, p.yellow, p.reset = "\033[32m", "\033[31m", "\033[33m", "\033[0m"
		}
	}
	return p
}

// Step prints msg padded to the result column without a newline.
func (p *Printer) Step(msg string) {
	fmt.Fprintf(p.out, "%-70s", msg)
}

// OK completes a step started with Step.
func (p *Printer) OK() {
	fmt.Fprintf(p.out, "%s[OK]%s\n", p.green, p.reset)
}

// Fail completes a step started with Step.
func (p *Printer) Fail() {
	fmt.Fprintf(p.out, "%s[FAIL]%s\n", p.red, p.reset)
}

// Success prints a complete successful step.
func (p *Printer) Success(msg string) {
	fmt.Fprintf(p.out, "%-70s%s[OK]%s\n", msg, p.green, p.reset)
}

// Warn prints a complete step that needs attention.
func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.out, "%-70s%s[WARN]%s\n", msg, p.yellow, p.reset)
}
