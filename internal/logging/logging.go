// Package logging provides prefixed component loggers over a shared
// charmbracelet/log configuration.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu         sync.Mutex
	level      = log.InfoLevel
	output     io.Writer = os.Stderr
	components           = map[string]*log.Logger{}
)

// Component returns the logger for a named component. Loggers are cached
// so Configure reaches loggers created at package init.
func Component(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := components[prefix]; ok {
		return l
	}
	l := log.NewWithOptions(output, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          prefix,
	})
	components[prefix] = l
	return l
}

// Configure sets the level of every component logger. Unknown levels fall
// back to info.
func Configure(levelName string) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		lvl = log.InfoLevel
	}

	mu.Lock()
	defer mu.Unlock()
	level = lvl
	for _, l := range components {
		l.SetLevel(lvl)
	}
}

// SetOutput redirects every component logger. Used by tests and the CLI.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	for _, l := range components {
		l.SetOutput(w)
	}
}
