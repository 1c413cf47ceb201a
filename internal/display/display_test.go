package display

import (
	"bytes"
	"os"
	"testing"
)

func TestSupported_NonTerminalWriter(t *testing.T) {
	t.Setenv("KITTY_WINDOW_ID", "1")

	// A kitty environment is not enough; the writer itself must be a
	// terminal, not a buffer or a pipe to a file.
	if Supported(&bytes.Buffer{}) {
		t.Error("Supported() = true for a non-file writer")
	}

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if Supported(f) {
		t.Error("Supported() = true for a regular file")
	}
}

func TestSupported_NoKittyEnvironment(t *testing.T) {
	t.Setenv("KITTY_WINDOW_ID", "")
	t.Setenv("TERM", "dumb")

	if Supported(os.Stdout) {
		t.Error("Supported() = true outside a kitty terminal")
	}
}
