// Package logger provides a small tag-prefixed console logger used
// throughout the pipeline in place of structured log records — every call
// site already carries a short component tag ("API", "EXTRACT", "GEOCODE",
// "STATE"),
// so the tag itself is the structure.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

// Info logs a routine progress message under the given component tag.
func Info(tag, msg string) {
	fmt.Fprintf(os.Stdout, "%s[%s]%s %s[%s]%s %s\n", colorGray, stamp(), colorReset, colorCyan, tag, colorReset, msg)
}

// Success logs a completed-operation message.
func Success(tag, msg string) {
	fmt.Fprintf(os.Stdout, "%s[%s]%s %s[%s]%s %s✓%s %s\n", colorGray, stamp(), colorReset, colorCyan, tag, colorReset, colorGreen, colorReset, msg)
}

// Warn logs a recoverable-problem message.
func Warn(tag, msg string) {
	fmt.Fprintf(os.Stdout, "%s[%s]%s %s[%s]%s %s⚠%s %s\n", colorGray, stamp(), colorReset, colorCyan, tag, colorReset, colorYellow, colorReset, msg)
}

// Error logs a failure message.
func Error(tag, msg string) {
	fmt.Fprintf(os.Stderr, "%s[%s]%s %s[%s]%s %s✗%s %s\n", colorGray, stamp(), colorReset, colorCyan, tag, colorReset, colorRed, colorReset, msg)
}

// Section prints a visual section break, used between pipeline stages.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n%s== %s ==%s\n", colorBold, title, colorReset)
}

// Stats prints a single "key: value" statistics line under a Section.
func Stats(key string, value int) {
	fmt.Fprintf(os.Stdout, "  %-28s %d\n", key+":", value)
}

// Banner prints the startup banner for a given version string.
func Banner(version string) {
	fmt.Fprintf(os.Stdout, "%sratsarchiv-pipeline%s %s\n", colorBold, colorReset, version)
}

// Bytes renders a byte count the way download-size and spill-threshold log
// lines want it (humanize gives "10 MB" instead of a raw integer).
func Bytes(n int64) string {
	return humanize.Bytes(uint64(n))
}
