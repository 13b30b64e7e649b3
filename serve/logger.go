/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package serve

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// ptermLogger implements Logger with pterm, prefixing each line with a
// timestamp only when stdout is a terminal
type ptermLogger struct {
	verbose     bool
	interactive bool
	mu          sync.Mutex
}

// NewLogger creates the server's default pterm-backed logger
func NewLogger(verbose bool) Logger {
	return &ptermLogger{
		verbose:     verbose,
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (l *ptermLogger) log(printer pterm.PrefixPrinter, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	formatted := fmt.Sprintf(msg, args...)
	if l.interactive {
		timestamp := pterm.FgGray.Sprint(time.Now().Format("15:04:05"))
		printer.Println(timestamp + " " + formatted)
	} else {
		printer.Println(formatted)
	}
}

func (l *ptermLogger) Info(msg string, args ...interface{}) {
	l.log(pterm.Info, msg, args...)
}

func (l *ptermLogger) Warning(msg string, args ...interface{}) {
	l.log(pterm.Warning, msg, args...)
}

func (l *ptermLogger) Error(msg string, args ...interface{}) {
	l.log(pterm.Error, msg, args...)
}

func (l *ptermLogger) Debug(msg string, args ...interface{}) {
	if l.verbose {
		l.log(pterm.Debug, msg, args...)
	}
}
