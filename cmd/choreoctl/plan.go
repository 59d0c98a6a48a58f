package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/choreoctl/choreo/pkg/environment"
	"github.com/choreoctl/choreo/pkg/planner"
	"github.com/choreoctl/choreo/pkg/program"
)

var (
	planOutput  string
	planVerbose bool
)

var planCmd = &cobra.Command{
	Use:   "plan <file>",
	Short: "Run the planner over a program document and write the rewritten program",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(args[0])
	},
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "write the planned program here instead of stdout")
	planCmd.Flags().BoolVarP(&planVerbose, "verbose", "v", false, "print the planner's bottleneck/stagger/pad notes to stderr")
}

func runPlan(path string) error {
	_, p, err := loadDocument(path)
	if err != nil {
		return err
	}

	catalog, err := loadCatalog(environmentFiles)
	if err != nil {
		return err
	}
	resolved, err := environment.Resolve(p, catalog)
	if err != nil {
		return err
	}
	planned, notes := planner.Plan(p, planner.Options{Resolved: resolved, Verbose: planVerbose})

	if planVerbose {
		for _, n := range notes {
			logger.Info(string(n))
		}
	}

	format := formatForPath(path)
	if planOutput != "" {
		format = formatForPath(planOutput)
	}
	out, err := program.Marshal(planned, format)
	if err != nil {
		return fmt.Errorf("marshal planned program: %w", err)
	}

	if planOutput == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(planOutput, out, 0o644)
}
