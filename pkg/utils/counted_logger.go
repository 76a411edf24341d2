/*
 * Copyright 2023 LiveKit, Inc
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/logger"
)

// CountedLogger counts every occurrence of a condition but only logs a sample of them.
// Safe for concurrent use.
type CountedLogger interface {
	Log(msg string, keysAndValues ...any)
	ErrorLog(msg string, err error, keysAndValues ...any)
	SetLogger(lgr logger.Logger)
	Counter() int
}

type CountedLoggerLevel int

const (
	CountedLoggerLevelDebug CountedLoggerLevel = iota
	CountedLoggerLevelInfo
	CountedLoggerLevelWarn
	CountedLoggerLevelError
)

func (c CountedLoggerLevel) String() string {
	switch c {
	case CountedLoggerLevelDebug:
		return "debug"
	case CountedLoggerLevelInfo:
		return "info"
	case CountedLoggerLevelWarn:
		return "warn"
	case CountedLoggerLevelError:
		return "error"
	default:
		return "debug"
	}
}

// -----------------------------------

type countedLogger struct {
	lock    sync.Mutex
	counter int
	lgr     logger.Logger
	level   zapcore.Level
	// reports whether the sample at counter should be logged, called with lock held
	shouldLog func(counter int) bool
}

func newCountedLogger(lgr logger.Logger, level CountedLoggerLevel, shouldLog func(counter int) bool) *countedLogger {
	return &countedLogger{
		lgr:       lgr,
		level:     logger.ParseZapLevel(level.String()),
		shouldLog: shouldLog,
	}
}

func (c *countedLogger) next() (logger.Logger, int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.counter++
	return c.lgr, c.counter, c.shouldLog(c.counter)
}

func (c *countedLogger) Log(msg string, keysAndValues ...any) {
	lgr, counter, ok := c.next()
	if !ok {
		return
	}

	keysAndValues = append(keysAndValues, "counter", counter)
	switch c.level {
	case zapcore.InfoLevel:
		lgr.Infow(msg, keysAndValues...)
	case zapcore.WarnLevel:
		lgr.Warnw(msg, nil, keysAndValues...)
	case zapcore.ErrorLevel:
		lgr.Errorw(msg, nil, keysAndValues...)
	default:
		lgr.Debugw(msg, keysAndValues...)
	}
}

func (c *countedLogger) ErrorLog(msg string, err error, keysAndValues ...any) {
	lgr, counter, ok := c.next()
	if !ok {
		return
	}

	keysAndValues = append(keysAndValues, "counter", counter)
	if c.level == zapcore.ErrorLevel {
		lgr.Errorw(msg, err, keysAndValues...)
	} else {
		lgr.Warnw(msg, err, keysAndValues...)
	}
}

func (c *countedLogger) SetLogger(lgr logger.Logger) {
	c.lock.Lock()
	c.lgr = lgr
	c.lock.Unlock()
}

func (c *countedLogger) Counter() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.counter
}

// -----------------------------------

// logs `Initial` number of samples and then samples spaced apart by `Then`
type PeriodicLoggerParams struct {
	Initial int
	Then    int
}

func NewPeriodicLogger(lgr logger.Logger, level CountedLoggerLevel, params PeriodicLoggerParams) CountedLogger {
	then := params.Then
	if then <= 0 {
		then = 1
	}
	return newCountedLogger(lgr, level, func(counter int) bool {
		return counter <= params.Initial || (counter-params.Initial)%then == 0
	})
}

// -----------------------------------

// logs samples `(counter % Base^n) == 0` for `n = 0, 1, 2, ...`
// for example with `Base = 5`, it will log samples at 1, 2, 3, 4, 5, 10, 15, 20, 25, 50, 75, 100, 125, 250, 375, ...
type ExponentialLoggerParams struct {
	Base int
}

func NewExponentialLogger(lgr logger.Logger, level CountedLoggerLevel, params ExponentialLoggerParams) CountedLogger {
	base := params.Base
	if base < 2 {
		base = 2
	}
	current := 1
	return newCountedLogger(lgr, level, func(counter int) bool {
		if counter == current*base {
			current *= base
		}
		return counter%current == 0
	})
}
