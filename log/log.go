// Copyright 2018 The Mangos Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the minimal leveled logging surface the engine
// needs; its one call site is the pipe's warning when a peer sends an
// oversize message. It wraps log/slog so that callers
// can supply their own structured sink without this package depending
// on a specific logging framework.
package log

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is the minimal surface the engine uses. *slog.Logger already
// satisfies it.
type Logger interface {
	Warn(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

var current atomic.Value // holds Logger

func init() {
	current.Store(Logger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
}

// SetDefault replaces the logger used by the engine. Passing nil
// restores a logger that writes to os.Stderr.
func SetDefault(l Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	current.Store(l)
}

// Default returns the logger currently in effect.
func Default() Logger {
	return current.Load().(Logger)
}

// Warnf logs a warning with key/value fields, matching the engine's
// call sites (e.g. oversize message, peer address).
func Warnf(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

// Debugf logs a debug-level message.
func Debugf(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}
