// Package configs embeds the annotated configuration template written by
// `legalcodes config init`.
package configs

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed project-config.example.yaml
var projectConfigTemplate string

// ProjectValues fill the project template.
type ProjectValues struct {
	SourceKind string
	SourcePath string
	DataDir    string
}

// RenderProjectConfig returns the annotated .legalcodes.yaml for v.
func RenderProjectConfig(v ProjectValues) (string, error) {
	if v.SourceKind == "" {
		v.SourceKind = "jsonl"
	}
	tmpl, err := template.New("project").Parse(projectConfigTemplate)
	if err != nil {
		return "", fmt.Errorf("parse config template: %w", err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, v); err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return b.String(), nil
}
