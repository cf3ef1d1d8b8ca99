// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package gnblog provides a context-tagged structured logger used by every
// component of the gNB core (GTP-U tunnels, RA scheduler, HARQ entity).
//
// Design Notes (spec.md section 9) call out the source's global loggers
// (srslog::fetch_basic_logger singletons) and ask for a context-tagged
// logger passed by reference at construction instead. Logger wraps
// charmbracelet/log.Logger for that purpose: no component holds a
// package-level logger, each is handed one (with its own With() fields)
// when it is built.
package gnblog

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is a thin, context-tagged wrapper around charmbracelet/log.
type Logger struct {
	l *charmlog.Logger
}

// New builds a root logger writing to stderr at the given level ("debug",
// "info", "warn", "error").
func New(level string) *Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})
	if lvl, err := charmlog.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return &Logger{l: l}
}

// With returns a derived Logger that prefixes every message with the given
// key/value fields, e.g. With("component", "gtpu-rx", "teid", teid).
func (g *Logger) With(kv ...interface{}) *Logger {
	return &Logger{l: g.l.With(kv...)}
}

func (g *Logger) Debug(msg string, kv ...interface{}) { g.l.Debug(msg, kv...) }
func (g *Logger) Info(msg string, kv ...interface{})  { g.l.Info(msg, kv...) }
func (g *Logger) Warn(msg string, kv ...interface{})  { g.l.Warn(msg, kv...) }
func (g *Logger) Error(msg string, kv ...interface{}) { g.l.Error(msg, kv...) }

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() *Logger {
	l := charmlog.New(discard{})
	l.SetLevel(charmlog.FatalLevel + 1)
	return &Logger{l: l}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
