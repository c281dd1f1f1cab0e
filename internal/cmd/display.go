package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// palette holds the colors used by list output. Colors are only
// emitted when the writer is a terminal.
type palette struct {
	header *color.Color
	ok     *color.Color
	off    *color.Color
	err    *color.Color
	dim    *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		header: color.New(color.FgCyan, color.Bold),
		ok:     color.New(color.FgGreen),
		off:    color.New(color.FgYellow),
		err:    color.New(color.FgRed),
		dim:    color.New(color.FgHiBlack),
	}
	if colorOutput(w) {
		for _, c := range []*color.Color{p.header, p.ok, p.off, p.err, p.dim} {
			c.EnableColor()
		}
	} else {
		for _, c := range []*color.Color{p.header, p.ok, p.off, p.err, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

// colorOutput reports whether w is a terminal that should receive colors
func colorOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *palette) enabled(on bool) string {
	if on {
		return p.ok.Sprint("enabled")
	}
	return p.off.Sprint("disabled")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// parseID parses a positive record ID argument
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", arg)
	}
	return id, nil
}
