package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/choreoctl/choreo/pkg/environment"
	"github.com/choreoctl/choreo/pkg/program"
)

// formatForPath picks a program.Format from a file's extension, since
// the CLI adapter has no other signal for which codec to use.
func formatForPath(path string) program.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return program.FormatJSON
	default:
		return program.FormatYAML
	}
}

// loadDocument reads path and decodes it into both the raw document
// tree (for the validator's structural pass) and the built Program
// (for everything else), the same pair most pkg/program callers need.
func loadDocument(path string) (map[string]any, *program.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	format := formatForPath(path)

	doc, err := program.DecodeDocument(data, format)
	if err != nil {
		return nil, nil, err
	}
	p, err := program.Build(doc)
	if err != nil {
		return doc, nil, err
	}
	return doc, p, nil
}

// loadCatalog builds an environment catalog from the files named by
// --environments. Directory discovery stays out of scope; each file is
// one environment document.
func loadCatalog(paths []string) (environment.Catalog, error) {
	catalog := environment.Catalog{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		env, err := environment.DecodeAndBuild(data, formatForPath(path))
		if err != nil {
			return nil, fmt.Errorf("parse environment %s: %w", path, err)
		}
		catalog[env.ID] = env
	}
	return catalog, nil
}
