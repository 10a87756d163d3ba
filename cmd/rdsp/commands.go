package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rdsp/internal/core"
	"rdsp/internal/history"
	"rdsp/internal/orbit"
	"rdsp/internal/task"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rdsp",
		Short:         "Air-gap processing for rotating machinery test rigs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.AddCommand(
		newNewCmd(a),
		newImportCmd(a),
		newTreeCmd(a),
		newModulesCmd(a),
		newAttachCmd(a),
		newProcessCmd(a),
		newExportCmd(a),
		newOrbitCmd(a),
		newDeleteCmd(a),
		newHistoryCmd(a),
		newOrphansCmd(a),
		newURLCmd(a),
	)
	return root
}

func newNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new <dir>",
		Short: "Create a project in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(args[0], 0o755); err != nil {
				return err
			}
			p, err := a.openProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, p.Path())
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <project> <capture>",
		Short: "Import a capture file as a new signal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.openProject(ctx, args[0])
			if err != nil {
				return err
			}
			s, err := p.ImportCapture(ctx, args[1])
			if err != nil {
				return err
			}
			a.touch(ctx, history.KindCapture, args[1])
			fmt.Fprintf(a.stdout, "signal %s %s\n", s.GUID(), s.Name())
			for _, t := range s.Tracks() {
				fmt.Fprintf(a.stdout, "  track %s %s\n", t.GUID(), t.Name())
			}
			return nil
		},
	}
}

func newTreeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tree <project>",
		Short: "Print the signal, track and process tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tree := p.Tree()
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(tree)
			}
			for _, n := range tree {
				printNode(a.stdout, n, 0)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tree as JSON")
	return cmd
}

func printNode(w io.Writer, n core.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.GUID != "" {
		fmt.Fprintf(w, "%s%s %q %s\n", indent, n.Type, n.Name, n.GUID)
	} else {
		fmt.Fprintf(w, "%s%s\n", indent, n.Name)
	}
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}

func newModulesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List installed module packages and invokable types",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PACKAGE\tVERSION\tTYPES")
			for _, m := range a.registry.Installed() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Version, strings.Join(m.Types, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "invokable: %s\n", strings.Join(a.registry.ListInvokable(), ", "))
			return nil
		},
	}
}

func newAttachCmd(a *app) *cobra.Command {
	var name, configPath string
	cmd := &cobra.Command{
		Use:   "attach <project> <parent-guid> <type>",
		Short: "Attach a configured process to a signal or container process",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var raw json.RawMessage
			if configPath != "" {
				b, err := readConfig(cmd.InOrStdin(), configPath)
				if err != nil {
					return err
				}
				raw = b
			}
			p, err := a.openProject(ctx, args[0])
			if err != nil {
				return err
			}
			proc, err := p.AttachProcess(ctx, args[1], args[2], name, raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, proc.GUID())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the type)")
	cmd.Flags().StringVar(&configPath, "config", "", "JSON config file, - for stdin")
	return cmd
}

func readConfig(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// findProcess opens the project and resolves a process GUID.
func (a *app) findProcess(ctx context.Context, project, guid string) (*core.Project, core.Process, error) {
	p, err := a.openProject(ctx, project)
	if err != nil {
		return nil, nil, err
	}
	proc, _, ok := p.FindProcess(guid)
	if !ok {
		return nil, nil, fmt.Errorf("process %s not found", guid)
	}
	return p, proc, nil
}

func newProcessCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "process <project> <process-guid>",
		Short: "Run a process and store its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, proc, err := a.findProcess(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			var onProgress func(task.Progress)
			if !quiet {
				onProgress = func(pr task.Progress) {
					if pr.Total > 0 {
						fmt.Fprintf(a.stderr, "\r%s: %d/%d", proc.Name(), pr.Done, pr.Total)
					}
					if pr.Finished {
						fmt.Fprintln(a.stderr)
					}
				}
			}
			if err := p.Run(ctx, proc, onProgress); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "processed %s\n", proc.GUID())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not report progress")
	return cmd
}

type exporter interface {
	Export(ctx context.Context, w io.Writer) error
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <project> <process-guid> <out.xlsx>",
		Short: "Write a process result to an xlsx workbook",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			_, proc, err := a.findProcess(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			ex, ok := proc.(exporter)
			if !ok {
				return fmt.Errorf("process %s (%s) has no exportable result", proc.GUID(), proc.Type())
			}
			f, err := os.Create(args[2])
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(args[2])
				}
			}()
			return ex.Export(ctx, f)
		},
	}
}

type orbiter interface {
	Orbit(ctx context.Context, sel orbit.Selection) (orbit.Orbit, error)
}

func newOrbitCmd(a *app) *cobra.Command {
	var pole, rev, sensor int
	var points bool
	cmd := &cobra.Command{
		Use:   "orbit <project> <process-guid>",
		Short: "Compute rotor and stator orbits for one pole and revolution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, proc, err := a.findProcess(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			ob, ok := proc.(orbiter)
			if !ok {
				return fmt.Errorf("process %s (%s) has no orbit view", proc.GUID(), proc.Type())
			}
			// flags are 1-based like pole numbers
			o, err := ob.Orbit(ctx, orbit.Selection{Pole: pole - 1, Revolution: rev - 1, Sensor: sensor - 1})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "sensor: %s\nspeed: %.3f rpm\nmax: %.6g\nmin: %.6g\n", o.Sensor, o.Speed, o.Max, o.Min)
			fmt.Fprintf(a.stdout, "eccentricity: x=%.6g y=%.6g |e|=%.6g\n", o.Eccentricity.X, o.Eccentricity.Y, o.Eccentricity.Magnitude)
			if points {
				fmt.Fprintln(a.stdout, "polygon,angle,radius,x,y")
				for _, set := range []struct {
					name string
					pts  []orbit.Point
				}{{"rotor", o.Rotor}, {"stator", o.Stator}} {
					for _, pt := range set.pts {
						fmt.Fprintf(a.stdout, "%s,%g,%g,%g,%g\n", set.name, pt.Angle, pt.Radius, pt.X, pt.Y)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pole, "pole", 1, "stator reference pole (1-based)")
	cmd.Flags().IntVar(&rev, "rev", 1, "revolution (1-based)")
	cmd.Flags().IntVar(&sensor, "sensor", 1, "rotor reference sensor by mounting angle order (1-based)")
	cmd.Flags().BoolVar(&points, "points", false, "print polygon points as CSV")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <guid>",
		Short: "Delete a signal or a process with everything it owns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return p.Delete(cmd.Context(), args[1])
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var recent string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent processing runs or recently used paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.ledger == nil {
				return errors.New("history store is not available")
			}
			if recent != "" {
				paths, err := a.ledger.Recent(ctx, recent)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(a.stdout, p)
				}
				return nil
			}
			runs, err := a.ledger.Runs(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTYPE\tPROCESS\tSTATUS\tDONE\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.ProcessType, r.ProcessGUID, r.Status, r.Done, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&recent, "recent", "", "list recent paths of a kind (project|capture)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newOrphansCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans <project>",
		Short: "List stored arrays and results the project no longer references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			keys, err := p.Orphans(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(a.stdout, k)
			}
			return nil
		},
	}
}

func newURLCmd(a *app) *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "url <project> <guid>",
		Short: "Print a link to the stored array of a track or the result of a process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			u, err := p.URL(cmd.Context(), args[1], expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, u)
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "link lifetime for drivers that sign links")
	return cmd
}
