// Command pipeforgectl demonstrates wiring a pipeforge.Context and
// driving it through its command surface. It is not a full CLI: each
// subcommand exercises one facade method end to end against a
// filesystem archive, the way an external collaborator would.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/GoCodeAlone/pipeforge"
	"github.com/GoCodeAlone/pipeforge/canon"
	"github.com/GoCodeAlone/pipeforge/datatype"
	"github.com/GoCodeAlone/pipeforge/pipeline"
	"github.com/GoCodeAlone/pipeforge/value"
)

var commands = map[string]func([]string) error{
	"store":   runStore,
	"resolve": runResolve,
	"aliases": runAliases,
	"run":     runRunPipeline,
	"info":    runInfo,
}

func usage() {
	fmt.Fprintf(os.Stderr, `pipeforgectl - wiring demo for the pipeforge engine

Usage:
  pipeforgectl <command> [options]

Commands:
  store     Store a string value under an alias
  resolve   Resolve an alias to a value id and print its payload
  aliases   List every bound alias
  run       Compile and run the built-in "nand" demo pipeline
  info      Print archive identifying metadata
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}
	if err := cmd(os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "pipeforgectl:", err)
		os.Exit(1)
	}
}

func runStore(args []string) error {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	path := fs.String("archive", "./pipeforge-archive", "filesystem archive root")
	alias := fs.String("alias", "", "alias to bind the stored value under")
	text := fs.String("value", "", "string payload to store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := pipeforge.NewContext(pipeforge.Config{Backend: pipeforge.BackendFilesystem, Path: *path})
	if err != nil {
		return err
	}
	defer c.Close()

	v, err := c.StoreValue(context.Background(), datatype.Schema{TypeName: "string"}, *text, "pipeforgectl", *alias)
	if err != nil {
		return err
	}
	fmt.Printf("stored value %s (hash %s)\n", v.ID, v.Hash)
	return nil
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	path := fs.String("archive", "./pipeforge-archive", "filesystem archive root")
	alias := fs.String("alias", "", "alias to resolve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := pipeforge.NewContext(pipeforge.Config{Backend: pipeforge.BackendFilesystem, Path: *path})
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.ResolveAlias(context.Background(), *alias)
	if err != nil {
		return err
	}
	v, err := c.Values.Get(id)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s (payload: %v)\n", *alias, id, v.Payload())
	return nil
}

func runAliases(args []string) error {
	fs := flag.NewFlagSet("aliases", flag.ContinueOnError)
	path := fs.String("archive", "./pipeforge-archive", "filesystem archive root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := pipeforge.NewContext(pipeforge.Config{Backend: pipeforge.BackendFilesystem, Path: *path})
	if err != nil {
		return err
	}
	defer c.Close()

	names, err := c.ListAliases(context.Background())
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	path := fs.String("archive", "./pipeforge-archive", "filesystem archive root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := pipeforge.NewContext(pipeforge.Config{Backend: pipeforge.BackendFilesystem, Path: *path})
	if err != nil {
		return err
	}
	defer c.Close()

	info := c.RetrieveArchiveInfo()
	enc, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

// runRunPipeline registers and runs the NAND pipeline from spec.md §8
// scenario S1 against two boolean inputs, demonstrating
// RegisterPipeline + RunPipeline end to end.
func runRunPipeline(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	path := fs.String("archive", "./pipeforge-archive", "filesystem archive root")
	a := fs.Bool("a", true, "pipeline input a")
	b := fs.Bool("b", true, "pipeline input b")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := pipeforge.NewContext(pipeforge.Config{Backend: pipeforge.BackendFilesystem, Path: *path})
	if err != nil {
		return err
	}
	defer c.Close()

	d := &pipeline.Declaration{
		PipelineName: "nand",
		Steps: []pipeline.StepDecl{
			{
				StepID:     "and",
				ModuleType: "logic.and",
				InputLinks: map[string]pipeline.InputLink{
					"a": {PipelineInput: "a"},
					"b": {PipelineInput: "b"},
				},
			},
			{
				StepID:     "not",
				ModuleType: "logic.not",
				InputLinks: map[string]pipeline.InputLink{
					"a": {StepOutput: "and.y"},
				},
			},
		},
		OutputAliases: map[string]string{"y": "not.y"},
	}
	if _, err := c.GetPipeline("nand"); err != nil {
		if _, err := c.RegisterPipeline(d); err != nil {
			return err
		}
	}

	av, err := c.Values.Register(datatype.Schema{TypeName: "boolean"}, *a, value.External("cli input a"))
	if err != nil {
		return err
	}
	bv, err := c.Values.Register(datatype.Schema{TypeName: "boolean"}, *b, value.External("cli input b"))
	if err != nil {
		return err
	}

	ctrl, results, err := c.RunPipeline(context.Background(), "nand", map[string]canon.Digest{"a": av.Hash, "b": bv.Hash}, "pipeforgectl run")
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("step %s: %w", r.StepID, r.Err)
		}
	}
	outputs := ctrl.PipelineOutputs()
	y, err := c.Values.GetByHash(outputs["y"])
	if err != nil {
		return err
	}
	fmt.Printf("NAND(%v, %v) = %v\n", *a, *b, y.Payload())
	return nil
}
