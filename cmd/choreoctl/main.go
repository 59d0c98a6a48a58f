// Command choreoctl is the CLI adapter around the choreo packages:
// validate a program document, run the planner over it, or execute it
// against a real wall clock.
package main

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

var (
	logFile          string
	environmentFiles []string
)

var logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})

var rootCmd = &cobra.Command{
	Use:           "choreoctl",
	Short:         "Validate, plan, and run choreo program documents",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logFile == "" {
			return
		}
		var w io.Writer = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		logger = log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append rotated logs here instead of stderr")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "export tick spans to this OTLP/HTTP collector (host:port)")
	rootCmd.PersistentFlags().StringArrayVarP(&environmentFiles, "environments", "e", nil, "environment document(s) to resolve environment references against")
	rootCmd.AddCommand(validateCmd, planCmd, runCmd)
}

// colorEnabled reports whether stdout is a terminal that should
// receive lipgloss-styled output rather than plain text.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
