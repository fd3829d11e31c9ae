package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
	}

	// LogEntry embeds a zapcore Entry and slice of Fields.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var errs error
	for _, appender := range imp.appenders {
		errs = multierr.Append(errs, appender.Sync())
	}
	return errs
}

func (imp *impl) enabled(level Level, forced bool) bool {
	return forced || level >= imp.level.Get()
}

// The helpers below must be called straight from the exported methods: the caller lookup skips a
// fixed number of frames to land on the code that logged.

func (imp *impl) logArgs(level Level, args []interface{}) {
	if imp.enabled(level, false) {
		imp.write(imp.entry(level, fmt.Sprint(args...), nil))
	}
}

func (imp *impl) logf(level Level, template string, args []interface{}) {
	if imp.enabled(level, false) {
		imp.write(imp.entry(level, fmt.Sprintf(template, args...), nil))
	}
}

func (imp *impl) logw(level Level, forced bool, msg string, keysAndValues []interface{}) {
	if imp.enabled(level, forced) {
		imp.write(imp.entry(level, msg, keysAndValues))
	}
}

// entry builds a log entry; odd elements of keysAndValues are keys and the element after each is
// its value.
func (imp *impl) entry(level Level, msg string, keysAndValues []interface{}) *LogEntry {
	e := &LogEntry{}
	e.Time = time.Now()
	e.LoggerName = imp.name
	e.Caller = getCaller()
	e.Level = level.AsZap()
	e.Message = msg

	if len(keysAndValues) == 0 {
		return e
	}
	e.fields = make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		var key string
		if stringer, ok := keysAndValues[i].(fmt.Stringer); ok {
			key = stringer.String()
		} else {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			e.fields = append(e.fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			// keep the dangling key visible
			e.fields = append(e.fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return e
}

func (imp *impl) write(e *LogEntry) {
	if imp.inUTC {
		e.Time = e.Time.UTC()
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(e.Entry, e.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

func (imp *impl) Debug(args ...interface{}) { imp.logArgs(DEBUG, args) }

func (imp *impl) Debugf(template string, args ...interface{}) { imp.logf(DEBUG, template, args) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logw(DEBUG, false, msg, keysAndValues)
}

// CDebugw logs at debug level when either the logger level or the context asks for it.
func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.logw(DEBUG, IsDebugMode(ctx), msg, keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.logArgs(INFO, args) }

func (imp *impl) Infof(template string, args ...interface{}) { imp.logf(INFO, template, args) }

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logw(INFO, false, msg, keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.logArgs(WARN, args) }

func (imp *impl) Warnf(template string, args ...interface{}) { imp.logf(WARN, template, args) }

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logw(WARN, false, msg, keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.logArgs(ERROR, args) }

func (imp *impl) Errorf(template string, args ...interface{}) { imp.logf(ERROR, template, args) }

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.logw(ERROR, false, msg, keysAndValues)
}

// getCaller returns the frame of the code calling an exported logging method, e.g.
// "logging/impl_test.go:36".
func getCaller() zapcore.EntryCaller {
	// getCaller, entry, the level helper, the exported method
	const skipToLogCaller = 4
	var entryCaller zapcore.EntryCaller
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if fn := runtime.FuncForPC(entryCaller.PC); fn != nil {
		entryCaller.Function = fn.Name()
	}
	return entryCaller
}
