// Command goad is the thin CLI "driver convenience" layer spec.md §1
// calls external to the core: it never touches ad's internals, only the
// public Function surface (Optimize, ToJSON/FunctionFromJSON, ToCSRC,
// Forward). Built on github.com/urfave/cli/v2, the pack's own CLI
// library of choice.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/gotape/gotape/ad"
)

func main() {
	app := &cli.App{
		Name:  "goad",
		Usage: "inspect, optimize and evaluate serialized gotape recordings",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "thread-cap",
				Usage:   "per-goroutine taylor-buffer pool cap",
				EnvVars: []string{"GOTAPE_THREAD_CAP"},
				Value:   ad.PoolCapPerThread,
			},
		},
		Before: func(c *cli.Context) error {
			ad.PoolCapPerThread = c.Int("thread-cap")
			return nil
		},
		Commands: []*cli.Command{
			optimizeCmd,
			toJSONCmd,
			toCSRCCmd,
			evalCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "goad:", err)
		os.Exit(1)
	}
}

func loadFunction(path string) (*ad.Function, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ad.FunctionFromJSON(r)
}

func writeFunction(path string, f *ad.Function) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	return f.ToJSON(w)
}

var optimizeCmd = &cli.Command{
	Name:      "optimize",
	Usage:     "run the five-pass optimizer over a recording and write the result",
	ArgsUsage: "<in.json> <out.json>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "keep-compare", Usage: "keep Compare ops alive through dead-code elimination"},
		&cli.IntFlag{Name: "cse-collision-limit", Usage: "0 means no limit"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: goad optimize <in.json> <out.json>", 1)
		}
		f, err := loadFunction(c.Args().Get(0))
		if err != nil {
			return err
		}
		opt, info := f.Optimize(ad.OptimizeOptions{
			KeepCompare:       c.Bool("keep-compare"),
			CSECollisionLimit: c.Int("cse-collision-limit"),
		})
		for _, p := range info.Passes {
			fmt.Fprintf(os.Stderr, "%-12s %d -> %d ops\n", p.Name, p.OpsBefore, p.OpsAfter)
		}
		return writeFunction(c.Args().Get(1), opt)
	},
}

var toJSONCmd = &cli.Command{
	Name:      "to-json",
	Usage:     "load a recording and re-emit it as pretty-printed JSON",
	ArgsUsage: "<in.json> [out.json]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("usage: goad to-json <in.json> [out.json]", 1)
		}
		f, err := loadFunction(c.Args().Get(0))
		if err != nil {
			return err
		}
		if c.NArg() >= 2 {
			return writeFunction(c.Args().Get(1), f)
		}
		return f.ToJSON(os.Stdout)
	},
}

var toCSRCCmd = &cli.Command{
	Name:      "to-csrc",
	Usage:     "load a recording and render it as C-like pseudocode",
	ArgsUsage: "<in.json> [out.c]",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("usage: goad to-csrc <in.json> [out.c]", 1)
		}
		f, err := loadFunction(c.Args().Get(0))
		if err != nil {
			return err
		}
		if c.NArg() < 2 {
			return f.ToCSRC(os.Stdout)
		}
		out, err := os.Create(c.Args().Get(1))
		if err != nil {
			return err
		}
		defer out.Close()
		return f.ToCSRC(out)
	},
}

var evalCmd = &cli.Command{
	Name:      "eval",
	Usage:     "load a recording and a point, run a zero-order forward sweep, print the dependents",
	ArgsUsage: "<in.json> <x0,x1,...>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: goad eval <in.json> <x0,x1,...>", 1)
		}
		f, err := loadFunction(c.Args().Get(0))
		if err != nil {
			return err
		}
		x, err := parsePoint(c.Args().Get(1))
		if err != nil {
			return err
		}
		if want := f.NumIndep(); len(x) != want {
			return cli.Exit(fmt.Sprintf("eval: recording needs %d independents, got %d", want, len(x)), 1)
		}
		if err := f.CapacityOrder(1, 1); err != nil {
			return err
		}
		y, err := f.Forward(0, 0, 0, [][]float64{x})
		if err != nil {
			return err
		}
		row := y[0]
		strs := make([]string, len(row))
		for i, v := range row {
			strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Println(strings.Join(strs, ","))
		return nil
	},
}

func parsePoint(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	x := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("eval: bad value %q: %w", field, err)
		}
		x[i] = v
	}
	return x, nil
}
