// Package debug implements an opt-in debug logger for the backup core,
// adapted from restic's internal/debug package: disabled by default, enabled
// by setting DEBUG_LOG (file to write to) and/or DEBUG_FUNCS / DEBUG_FILES
// (comma-separated glob filters on caller function/file).
package debug

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

var opts struct {
	isEnabled bool
	logger    *log.Logger
	funcs     map[string]bool
	files     map[string]bool
}

var _ = initDebug()

func initDebug() bool {
	initLogger()
	initFilters()

	if opts.logger == nil && len(opts.funcs) == 0 && len(opts.files) == 0 {
		opts.isEnabled = false
		return false
	}

	opts.isEnabled = true
	return true
}

func initLogger() {
	debugfile := os.Getenv("DEBUG_LOG")
	if debugfile == "" {
		return
	}

	f, err := os.OpenFile(debugfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "debug: unable to open debug log file: %v\n", err)
		return
	}

	opts.logger = log.New(f, "", log.LstdFlags)
}

func parseFilter(envname string) map[string]bool {
	filter := make(map[string]bool)

	env := os.Getenv(envname)
	if env == "" {
		return filter
	}

	for _, fn := range strings.Split(env, ",") {
		filter[strings.TrimSpace(fn)] = true
	}

	return filter
}

func initFilters() {
	opts.funcs = parseFilter("DEBUG_FUNCS")
	opts.files = parseFilter("DEBUG_FILES")
}

func matchFilter(filter map[string]bool, value string) bool {
	if len(filter) == 0 {
		return false
	}

	for pattern := range filter {
		if ok, _ := path.Match(pattern, value); ok {
			return true
		}
	}

	return false
}

// Log writes a debug message, prefixed with the caller's file, line and
// function name, iff debug logging has been enabled via DEBUG_LOG,
// DEBUG_FUNCS or DEBUG_FILES.
func Log(fmtstr string, args ...interface{}) {
	if !opts.isEnabled {
		return
	}

	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)

	fn := "???"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = filepath.Base(f.Name())
	}

	if len(opts.funcs) > 0 && !matchFilter(opts.funcs, fn) {
		return
	}
	if len(opts.files) > 0 && !matchFilter(opts.files, file) {
		return
	}

	msg := fmt.Sprintf(fmtstr, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	if opts.logger != nil {
		opts.logger.Printf("%s:%d [%s] %s", file, line, fn, msg)
		return
	}

	fmt.Fprintf(os.Stderr, "DEBUG: %s:%d [%s] %s", file, line, fn, msg)
}
