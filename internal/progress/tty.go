package progress

import (
	"os"

	"github.com/mattn/go-isatty"
)

func isInteractive() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
