// Package tracelog is a small opt-in wrapper around the standard `log` package
// for tracing what the QFS driver does to an image.
//
// Tracing is off by default, and a disabled Printf costs one atomic load. It is
// turned on by setting the QFS_DEBUG environment variable to anything other
// than "", "0", or "false", or by calling SetEnabled.
package tracelog

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
)

const EnvironmentVariable = "QFS_DEBUG"

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

var status int32 = stateUninitialized

var mutex sync.Mutex
var logger = log.New(os.Stderr, "qfs: ", log.Ltime|log.Lmicroseconds)

func initialize() {
	value := os.Getenv(EnvironmentVariable)
	if value == "" || value == "0" || value == "false" {
		atomic.CompareAndSwapInt32(&status, stateUninitialized, stateDisabled)
	} else {
		atomic.CompareAndSwapInt32(&status, stateUninitialized, stateEnabled)
	}
}

// IsEnabled can be used to check if tracing is on before doing something
// expensive to build a message.
func IsEnabled() bool {
	st := atomic.LoadInt32(&status)
	if st == stateUninitialized {
		initialize()
		st = atomic.LoadInt32(&status)
	}
	return st == stateEnabled
}

// SetEnabled overrides the environment variable. The returned undo function
// restores the previous state.
func SetEnabled(enabled bool) (undo func()) {
	newState := stateDisabled
	if enabled {
		newState = stateEnabled
	}
	oldState := atomic.SwapInt32(&status, newState)
	return func() {
		atomic.StoreInt32(&status, oldState)
	}
}

// SetLogger replaces the logger that output goes to. The returned undo
// function changes the logger back to the old one.
func SetLogger(l *log.Logger) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldLogger := logger
	logger = l
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = oldLogger
	}
}

// Printf is a drop-in replacement for log.Printf that does nothing unless
// tracing is enabled.
func Printf(format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	mutex.Lock()
	defer mutex.Unlock()
	logger.Printf(format, args...)
}
