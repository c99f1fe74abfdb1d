// Package clifmt applies ANSI styling to CLI output when stdout is an
// interactive terminal. NO_COLOR and dumb terminals disable it.
package clifmt

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

type style string

const (
	styleHeader  style = "1;36"
	styleSuccess style = "32"
	styleWarn    style = "33"
	styleDim     style = "2"
	styleKey     style = "1;33"
)

var colorEnabled = sync.OnceValue(func() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
})

func (s style) apply(text string) string {
	if !colorEnabled() {
		return text
	}
	return "\x1b[" + string(s) + "m" + text + "\x1b[0m"
}

func Headerf(format string, args ...any) string {
	return styleHeader.apply(fmt.Sprintf(format, args...))
}

func Success(text string) string { return styleSuccess.apply(text) }
func Warn(text string) string    { return styleWarn.apply(text) }
func Dim(text string) string     { return styleDim.apply(text) }
func Key(text string) string     { return styleKey.apply(text) }
