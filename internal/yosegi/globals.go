package yosegi

import (
	"errors"
	"fmt"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	Verbose    bool
	ConfigFile = "yosegi.toml"
	version    = "dev"     // overridden at build time
	buildDate  = "unknown" // overridden at build time

	errNoKey         = errors.New("no such feature key")
	errFileNotFound  = errors.New("file not found")
	errFetchFailed   = errors.New("fetch failed")
	errExtractFailed = errors.New("extract failed")
	errBuildFailed   = errors.New("build failed")
	errCycle         = errors.New("dependency cycle")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
