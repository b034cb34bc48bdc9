package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/broady/apiflow"
	"github.com/broady/apiflow/cmd/apiflow/internal/call"
	"github.com/broady/apiflow/cmd/apiflow/internal/gen"
	"github.com/broady/apiflow/decl"
)

type CLI struct {
	Version VersionCmd `cmd:"" help:"Print version information."`
	Types   TypesCmd   `cmd:"" help:"List the lifecycle tokens of an API declaration."`
	Gen     gen.Cmd    `cmd:"" help:"Generate Go token variables for an API declaration."`
	Call    call.Cmd   `cmd:"" help:"Call an endpoint and print the terminal event."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(Version())
	return nil
}

type TypesCmd struct {
	File string `arg:"" help:"API declaration (YAML)." type:"existingfile"`
}

func (c *TypesCmd) Run() error {
	cfg, err := decl.Load(c.File)
	if err != nil {
		return err
	}
	api, err := apiflow.CreateAPI(cfg)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(api.MergedTypes.All))
	for name := range api.MergedTypes.All {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSTAGE\tENTITY\tENDPOINT")
	for _, name := range names {
		t := api.MergedTypes.All[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, t.Stage, t.Entity, t.Endpoint)
	}
	return w.Flush()
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("apiflow"),
		kong.Description("apiflow CLI for inspecting and calling declared REST APIs."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
