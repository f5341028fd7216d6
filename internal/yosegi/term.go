package yosegi

import (
	"os"

	"golang.org/x/term"
)

// termWidth returns the terminal width, or 0 when stdout is not a tty.
func termWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}
