// Package logging configures the process-wide seelog logger used by every
// other package. There is exactly one logger, set up once at startup from
// the --verbose/--debug CLI flags: a file handler is always on, and a
// console handler is added only when verbose logging is requested.
package logging

import (
	"fmt"

	"github.com/cihub/seelog"
)

// Setup installs the package-level seelog logger. debug raises the minimum
// level to Debug (Info otherwise); verbose additionally logs to stdout.
// The log file is always sys.log in the working directory; Setup does not
// truncate it, so output from earlier runs stays in the file.
func Setup(verbose bool, debug bool) error {
	minLevel := "info"
	if debug {
		minLevel = "debug"
	}

	consoleReceiver := ""
	if verbose {
		consoleReceiver = `<console formatid="main"/>`
	}

	config := fmt.Sprintf(`
<seelog minlevel="%s">
	<outputs formatid="main">
		%s
		<file path="sys.log"/>
	</outputs>
	<formats>
		<format id="main" format="[%%Date(2006-01-02 15:04:05)] %%Level [%%Func:%%Line] %%Msg%%n"/>
	</formats>
</seelog>`, minLevel, consoleReceiver)

	logger, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	seelog.ReplaceLogger(logger)
	return nil
}

// Flush drains buffered log output. Call on every exit path, including
// error paths, so nothing is lost on process termination.
func Flush() {
	seelog.Flush()
}
