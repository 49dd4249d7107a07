// Package cmd implements the starcss command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starcss/starcss/compiler"
)

// Execute runs the starcss CLI with the given version string.
func Execute(version string) {
	cmd := &cli.Command{
		Name:                   "starcss",
		Usage:                  "A stylesheet preprocessor with embedded Starlark",
		Version:                version,
		UseShortOptionHandling: true,
		// Allow `starcss style.stcss` as shorthand for `starcss run style.stcss`
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() > 0 && strings.HasSuffix(cmd.Args().First(), ".stcss") {
				return runAction(ctx, cmd)
			}
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Process a .stcss file and print the resulting CSS",
				ArgsUsage: "<file.stcss>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the result to a file instead of stdout",
					},
				},
				Action: runAction,
			},
			{
				Name:      "emit",
				Usage:     "Output the synthesized Starlark program",
				ArgsUsage: "<file.stcss>",
				Action:    emitAction,
			},
			{
				Name:      "check",
				Usage:     "Validate embedded fragments without running them",
				ArgsUsage: "<file.stcss>",
				Action:    checkAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if e, ok := err.(*compiler.Error); ok && e.Dump != "" {
			fmt.Fprint(os.Stderr, e.Dump)
		}
		os.Exit(1)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 1 {
		return fmt.Errorf("usage: starcss run <file.stcss>")
	}
	path := cmd.Args().First()
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	comp := &compiler.Compiler{}
	out, err := comp.Process(string(src), path)
	if err != nil {
		return err
	}
	if dest := cmd.String("output"); dest != "" {
		return os.WriteFile(dest, []byte(out), 0o644)
	}
	fmt.Print(out)
	return nil
}

func emitAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 1 {
		return fmt.Errorf("usage: starcss emit <file.stcss>")
	}
	path := cmd.Args().First()
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	comp := &compiler.Compiler{}
	compiled, err := comp.CompileSource(string(src), path)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimPrefix(compiled.Text, "\n"))
	return nil
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 1 {
		return fmt.Errorf("usage: starcss check <file.stcss>")
	}
	path := cmd.Args().First()
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	comp := &compiler.Compiler{}
	if _, err := comp.CompileSource(string(src), path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: ok\n", path)
	return nil
}
