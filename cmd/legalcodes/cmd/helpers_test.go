package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sectionsJSONL = `{"document_id":"fam-3044","code":"FAM","code_name":"Family Code","section":"3044","title":"Presumption against custody","content":"Upon a finding by the court that a party seeking custody of a child has perpetrated domestic violence, there is a rebuttable presumption that an award of custody to that person is detrimental to the best interest of the child.","updated_at":"2024-01-02T00:00:00Z"}
{"document_id":"fam-3011","code":"FAM","code_name":"Family Code","section":"3011","title":"Best interest of the child","content":"In making a determination of the best interests of the child, the court shall consider the health, safety, and welfare of the child.","updated_at":"2024-01-01T00:00:00Z"}
{"document_id":"pen-187","code":"PEN","code_name":"Penal Code","section":"187","title":"Murder defined","content":"Murder is the unlawful killing of a human being, or a fetus, with malice aforethought.","updated_at":"2024-01-03T00:00:00Z"}
`

// testProject writes a source file and .legalcodes.yaml into a temp
// directory and returns it. The static embedder keeps tests offline.
func testProject(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sections.jsonl"), []byte(sectionsJSONL), 0o644))

	yaml := `source:
  kind: jsonl
  path: sections.jsonl
  target: test
storage:
  data_dir: ` + filepath.Join(dir, "data") + `
embeddings:
  provider: static
  dimensions: 32
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".legalcodes.yaml"), []byte(yaml), 0o644))
	return dir
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}
