// Copyright 2020 The blocks Authors
// This file is part of the blocks library.
//
// The blocks library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The blocks library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the blocks library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the per-module leveled logger used throughout
// blocks. It follows the module-logger convention (one logger per
// package, key/value structured fields) rather than a single global
// logger.
package log

import (
	"fmt"
	"os"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names, one per package that logs.
const (
	Conductor = "conductor"
	Store     = "store"
	Locker    = "locker"
	Worker    = "worker"
	Config    = "config"
	ChainRPC  = "chainrpc"
	Analysis  = "analysis"
	API       = "api"
)

var (
	exitFunc = os.Exit
	root     *zap.SugaredLogger
)

func init() {
	SetLevel("INFO")
}

// SetLevel reconfigures the root logger at the given level name
// (CRITICAL, ERROR, WARNING, INFO, DEBUG). Unknown names fall back to INFO.
func SetLevel(levelName string) {
	level := levelFromName(levelName)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(colorable.NewColorableStdout()),
		level,
	)

	root = zap.New(core, zap.AddCallerSkip(2)).Sugar()
}

func levelFromName(name string) zapcore.Level {
	switch name {
	case "CRITICAL":
		return zapcore.DPanicLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "WARNING":
		return zapcore.WarnLevel
	case "DEBUG":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a module-scoped leveled logger. Messages take alternating
// key/value pairs after the message, matching the call convention used
// across this codebase: logger.Error("failed to fetch block", "number", n, "err", err).
type Logger struct {
	module string
}

// NewModuleLogger returns a Logger scoped to the given module name.
func NewModuleLogger(module string) *Logger {
	return &Logger{module: module}
}

func (l *Logger) with(kv []interface{}) *zap.SugaredLogger {
	fields := make([]interface{}, 0, len(kv)+2)
	fields = append(fields, "module", l.module)
	fields = append(fields, kv...)
	return root.With(fields...)
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.with(kv).Debug(msg) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.with(kv).Debug(msg) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.with(kv).Info(msg) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.with(kv).Warn(msg) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.with(kv).Error(msg) }

// Crit logs at the highest level and terminates the process. Used only
// for unrecoverable configuration/schema failures — operational errors
// must never reach here.
func (l *Logger) Crit(msg string, kv ...interface{}) {
	caller := stack.Caller(1)
	l.with(append(kv, "at", fmt.Sprintf("%+v", caller))).Error(msg)
	exitFunc(1)
}

// CritExit is identical to Crit but exits with the given code, used by
// main() for documented non-zero exit codes (missing config, unreachable
// chain endpoint, failed initial migration).
func (l *Logger) CritExit(code int, msg string, kv ...interface{}) {
	l.with(kv).Error(msg)
	exitFunc(code)
}
