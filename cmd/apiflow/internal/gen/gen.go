// Package gen renders the lifecycle tokens of an API declaration as Go source.
package gen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/broady/apiflow"
	"github.com/broady/apiflow/decl"
	"github.com/broady/apiflow/internal/casing"
	"golang.org/x/tools/imports"
)

type Cmd struct {
	File    string `arg:"" help:"API declaration (YAML)." type:"existingfile"`
	Package string `help:"Package name of the generated file." short:"p" default:"api"`
	Out     string `help:"Output file (default: stdout)." short:"o"`
}

func (c *Cmd) Run() error {
	cfg, err := decl.Load(c.File)
	if err != nil {
		return err
	}
	api, err := apiflow.CreateAPI(cfg)
	if err != nil {
		return err
	}

	src, err := Generate(api, c.Package)
	if err != nil {
		return err
	}

	if c.Out == "" {
		_, err = os.Stdout.Write(src)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Out), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(c.Out, src, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", c.Out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d tokens to %s\n", len(api.MergedTypes.All), c.Out)
	return nil
}

// Generate returns a formatted Go file declaring one variable per token of api.
func Generate(api *apiflow.API, pkg string) ([]byte, error) {
	names := make([]string, 0, len(api.MergedTypes.All))
	for name := range api.MergedTypes.All {
		names = append(names, name)
	}
	sort.Strings(names)

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by apiflow gen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	fmt.Fprintf(&b, "import \"github.com/broady/apiflow\"\n\n")
	fmt.Fprintf(&b, "// Lifecycle tokens of the %s API.\n", api.Name)
	fmt.Fprintf(&b, "var (\n")
	for _, name := range names {
		t := api.MergedTypes.All[name]
		fmt.Fprintf(&b, "\t%s = apiflow.Token{API: %q, Entity: %q, Endpoint: %q, Stage: %s}\n",
			Identifier(name), t.API, t.Entity, t.Endpoint, stageConst(t.Stage))
	}
	fmt.Fprintf(&b, ")\n")

	out, err := imports.Process(pkg+".go", b.Bytes(), &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w", err)
	}
	return out, nil
}

// Identifier turns a token name such as "API_USERS_GET_REQUEST" into an exported
// Go identifier such as "APIUsersGetRequest". The API segment keeps its case.
func Identifier(name string) string {
	api, rest, found := strings.Cut(name, "_")
	if !found {
		return exported(casing.Camelize(strings.ToLower(name)))
	}
	return exported(api) + exported(casing.Camelize(strings.ToLower(rest)))
}

func exported(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func stageConst(s apiflow.Stage) string {
	switch s {
	case apiflow.StageRequest:
		return "apiflow.StageRequest"
	case apiflow.StageSuccess:
		return "apiflow.StageSuccess"
	case apiflow.StageFailure:
		return "apiflow.StageFailure"
	}
	return fmt.Sprintf("apiflow.Stage(%q)", s)
}
