// Package klog provides the kernel-wide debug logger. It mirrors the
// teacher's fuse.getLogger(): silent by default, written to stderr under a
// flag, initialized exactly once.
package klog

import (
	"flag"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"nachos.debug",
	false,
	"Write kernel debugging messages to stderr.")

var gLogger *log.Logger
var gLoggerOnce sync.Once

func initLogger() {
	var writer io.Writer = ioutil.Discard
	if *fEnableDebug {
		writer = os.Stderr
	}

	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	gLogger = log.New(writer, "nachos: ", flags)
}

// Get returns the shared kernel logger, initializing it on first use.
func Get() *log.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}
