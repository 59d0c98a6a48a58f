package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/choreoctl/choreo/pkg/validator"
)

var validateJSON bool
var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a program document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0])
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the structured result as JSON")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "require every used task to be declared in resourceConstraints")
}

func runValidate(path string) error {
	doc, p, err := loadDocument(path)
	if err != nil && doc == nil {
		// The document didn't even decode; there is no tree to run
		// Pass 1 over.
		return err
	}

	var result validator.Result
	if err != nil {
		// The tree decoded but the builder rejected it. Fold the
		// build failure into the structured result so --json output
		// and exit-code behavior stay uniform.
		result = validator.BuildFailure(doc, err)
	} else {
		catalog, err := loadCatalog(environmentFiles)
		if err != nil {
			return err
		}
		result = validator.Validate(doc, p, validator.Options{Strict: validateStrict, Catalog: catalog})
	}

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printValidationReport(result)
	}

	if !result.IsValid {
		os.Exit(1)
	}
	return nil
}

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func printValidationReport(r validator.Result) {
	ok, fail, dim := okStyle, failStyle, dimStyle
	if !colorEnabled() {
		ok, fail, dim = lipgloss.NewStyle(), lipgloss.NewStyle(), lipgloss.NewStyle()
	}

	if r.IsValid {
		fmt.Println(ok.Render("VALID") + " " + r.Summary.Name)
	} else {
		fmt.Println(fail.Render("INVALID") + " " + r.Summary.Name)
	}
	fmt.Println(dim.Render(fmt.Sprintf(
		"program %s: %d track(s), %d step(s), %d resource constraint(s)",
		r.Summary.ProgramID, r.Summary.Tracks, r.Summary.TotalSteps, r.Summary.ResourceConstraints)))

	for _, e := range r.SchemaErrors {
		fmt.Println(fail.Render("schema:") + " " + e)
	}
	for _, e := range r.LogicErrors {
		fmt.Println(fail.Render("logic: ") + " " + e)
	}
}
