// Package logger holds the process-wide hclog root logger and the printf-style
// helpers used by host code outside the conversion module.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	rootMu sync.RWMutex
	root   hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "mediaconv",
		Level:  hclog.Info,
		Output: os.Stderr,
	})
)

// Options configures the root logger
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// Setup replaces the root logger. LOG_LEVEL and LOG_FORMAT override empty
// option fields.
func Setup(opts Options) hclog.Logger {
	if opts.Level == "" {
		opts.Level = os.Getenv("LOG_LEVEL")
	}
	if opts.Format == "" {
		opts.Format = os.Getenv("LOG_FORMAT")
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       "mediaconv",
		Level:      level,
		Output:     opts.Output,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
	})

	rootMu.Lock()
	root = l
	rootMu.Unlock()
	return l
}

// Root returns the root logger
func Root() hclog.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// Named returns a component logger
func Named(name string) hclog.Logger {
	return Root().Named(name)
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// Info logs informational messages. A trailing []Field is emitted as
// structured key/value pairs instead of format arguments.
func Info(format string, args ...interface{}) {
	msg, kv := split(format, args)
	Root().Info(msg, kv...)
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	msg, kv := split(format, args)
	Root().Warn(msg, kv...)
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	msg, kv := split(format, args)
	Root().Error(msg, kv...)
}

// Debug logs debug messages
func Debug(format string, args ...interface{}) {
	msg, kv := split(format, args)
	Root().Debug(msg, kv...)
}

func split(format string, args []interface{}) (string, []interface{}) {
	if len(args) > 0 {
		if fields, ok := args[len(args)-1].([]Field); ok {
			msg := format
			if len(args) > 1 {
				msg = fmt.Sprintf(format, args[:len(args)-1]...)
			}
			kv := make([]interface{}, 0, len(fields)*2)
			for _, f := range fields {
				kv = append(kv, f.Key, f.Value)
			}
			return msg, kv
		}
		return fmt.Sprintf(format, args...), nil
	}
	return format, nil
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Err(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}
