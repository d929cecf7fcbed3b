// Package log is the structured-enough logger the rest of the module
// writes through: level-prefixed, file:line-tagged lines to stderr via the
// standard library's log.Logger, gated on pkg/config.Debug for the debug
// level. Components that want an injectable dependency instead of the
// package-level functions take a *Logger (see fbcache.New, rfb.NewServer).
package log

import (
	"fmt"
	glog "log"
	"os"
	"path"
	"runtime"

	"github.com/kamrankamilli/gsvnc/pkg/config"
)

// Logger is a leveled, file:line-tagged logger. The zero value is not
// usable; construct with New or use the package-level default via the
// top-level functions.
type Logger struct {
	info, warning, error, debug *glog.Logger
	prefix                      string
}

// New constructs a Logger whose lines are additionally tagged with prefix
// (e.g. a session ID), written to stderr.
func New(prefix string) *Logger {
	flags := glog.Ldate | glog.Ltime
	return &Logger{
		info:    glog.New(os.Stderr, "INFO: ", flags),
		warning: glog.New(os.Stderr, "WARNING: ", flags),
		error:   glog.New(os.Stderr, "ERROR: ", flags),
		debug:   glog.New(os.Stderr, "DEBUG: ", flags),
		prefix:  prefix,
	}
}

var defaultLogger = New("")

// Default returns the package-wide default Logger.
func Default() *Logger { return defaultLogger }

func (l *Logger) format(args ...interface{}) string {
	_, file, line, _ := runtime.Caller(2)
	out := fmt.Sprintf("%s:%d: ", path.Base(file), line)
	if l.prefix != "" {
		out = l.prefix + " " + out
	}
	out += fmt.Sprint(args...)
	return out
}

func (l *Logger) formatf(fstr string, args ...interface{}) string {
	_, file, line, _ := runtime.Caller(2)
	out := fmt.Sprintf("%s:%d: ", path.Base(file), line)
	if l.prefix != "" {
		out = l.prefix + " " + out
	}
	out += fmt.Sprintf(fstr, args...)
	return out
}

func (l *Logger) Info(args ...interface{})  { l.info.Println(l.format(args...)) }
func (l *Logger) Warning(args ...interface{}) { l.warning.Println(l.format(args...)) }
func (l *Logger) Error(args ...interface{})   { l.error.Println(l.format(args...)) }
func (l *Logger) Debug(args ...interface{}) {
	if config.Debug {
		l.debug.Println(l.format(args...))
	}
}
func (l *Logger) Infof(f string, args ...interface{})    { l.info.Println(l.formatf(f, args...)) }
func (l *Logger) Warningf(f string, args ...interface{}) { l.warning.Println(l.formatf(f, args...)) }
func (l *Logger) Errorf(f string, args ...interface{})   { l.error.Println(l.formatf(f, args...)) }
func (l *Logger) Debugf(f string, args ...interface{}) {
	if config.Debug {
		l.debug.Println(l.formatf(f, args...))
	}
}

// Package-level convenience functions delegate to the default Logger, kept
// for call sites that don't need an injected instance (providers).

func Info(args ...interface{})              { defaultLogger.Info(args...) }
func Infof(f string, args ...interface{})    { defaultLogger.Infof(f, args...) }
func Warning(args ...interface{})            { defaultLogger.Warning(args...) }
func Warningf(f string, args ...interface{}) { defaultLogger.Warningf(f, args...) }
func Error(args ...interface{})              { defaultLogger.Error(args...) }
func Errorf(f string, args ...interface{})   { defaultLogger.Errorf(f, args...) }
func Debug(args ...interface{})              { defaultLogger.Debug(args...) }
func Debugf(f string, args ...interface{})   { defaultLogger.Debugf(f, args...) }
