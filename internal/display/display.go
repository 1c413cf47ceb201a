// Package display renders a saved artifact inline in terminals that speak
// the kitty graphics protocol.
package display

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

type Displayer struct {
	out io.Writer
}

func New(out io.Writer) *Displayer {
	return &Displayer{out: out}
}

// Supported reports whether out is a terminal that can show inline images.
func Supported(out io.Writer) bool {
	if os.Getenv("KITTY_WINDOW_ID") == "" && os.Getenv("TERM") != "xterm-kitty" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Preview renders the image file at path into the terminal.
func (d *Displayer) Preview(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image for preview: %w", err)
	}

	enc := NewKittyEncoder(d.out)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}
