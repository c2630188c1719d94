// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package receptor

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudwego/receptor/internal/runner"
)

// global config
var (
	loggerOutput        io.Writer = os.Stderr
	loggerLevel                   = zapcore.InfoLevel
	logger                        = newLogger(loggerOutput, zap.NewAtomicLevelAt(loggerLevel))
	defaultEventTimeout           = time.Duration(-1) // block until an event is ready
	defaultMaxEvents              = 64
	defaultBackend                = ""
)

// Config expose some tuning parameters to control the internal behaviors of receptor.
// Every parameter with the default zero value should keep the default behavior of receptor.
type Config struct {
	LoggerOutput io.Writer                           // logger output
	LogLevel     string                              // debug, info, warn or error
	Runner       func(ctx context.Context, f func()) // runner for background tasks, most of the time use a goroutine pool.
	EventTimeout time.Duration                       // max time a backend blocks in one Process call, negative blocks forever
	MaxEvents    int                                 // events fetched per backend iteration
	Backend      string                              // event backend used when the configuration does not name one
}

// Configure the internal behaviors of receptor.
// Configure must be called before any Runtime is created.
func Configure(config Config) (err error) {
	if config.LogLevel != "" {
		var lvl zapcore.Level
		if err = lvl.UnmarshalText([]byte(config.LogLevel)); err != nil {
			return fmt.Errorf("%w: log level %q", ErrConfig, config.LogLevel)
		}
		loggerLevel = lvl
	}
	if config.LoggerOutput != nil {
		loggerOutput = config.LoggerOutput
	}
	if config.LoggerOutput != nil || config.LogLevel != "" {
		logger = newLogger(loggerOutput, zap.NewAtomicLevelAt(loggerLevel))
	}
	if config.Runner != nil {
		runner.RunTask = config.Runner
	}
	if config.EventTimeout != 0 {
		defaultEventTimeout = config.EventTimeout
	}
	if config.MaxEvents > 0 {
		defaultMaxEvents = config.MaxEvents
	}
	if config.Backend != "" {
		if _, ok := lookupBackend(config.Backend); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownBackend, config.Backend)
		}
		defaultBackend = config.Backend
	}
	return nil
}

// SetLogger replaces the package logger used by backends and new runtimes.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// Logger returns the package logger.
func Logger() *zap.Logger {
	return logger
}

func newLogger(w io.Writer, level zap.AtomicLevel) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core).Named("receptor")
}
