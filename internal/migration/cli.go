package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

// CLI formats migrator operations for a terminal.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a CLI writing to stdout.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput redirects CLI output.
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

type command struct {
	numeric bool // takes exactly one integer argument
	run     func(c *CLI, ctx context.Context, n int) error
}

var commands = map[string]command{
	"up":      {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunUp(ctx) }},
	"down":    {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunDown(ctx) }},
	"steps":   {numeric: true, run: (*CLI).RunSteps},
	"force":   {numeric: true, run: (*CLI).RunForce},
	"version": {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunVersion(ctx) }},
	"status":  {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunStatus(ctx) }},
	"info":    {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunInfo(ctx) }},
}

// Commands lists the subcommands Run accepts.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run dispatches a subcommand. An empty command means status.
func (c *CLI) Run(ctx context.Context, name string, args []string) error {
	if name == "" {
		name = "status"
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown migrate command %q (want one of %s)", name, strings.Join(Commands(), ", "))
	}
	var n int
	if cmd.numeric {
		if len(args) != 1 {
			return fmt.Errorf("%s requires exactly one numeric argument", name)
		}
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("%s: invalid number %q", name, args[0])
		}
	}
	return cmd.run(c, ctx, n)
}

// RunUp applies pending migrations.
func (c *CLI) RunUp(ctx context.Context) error {
	c.println("Running migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "Migrations complete.")
}

// RunDown rolls back the last migration.
func (c *CLI) RunDown(ctx context.Context) error {
	c.println("Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "Rollback complete.")
}

// RunSteps applies n migrations, or rolls back -n.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	verb, count := "Applying", n
	if n < 0 {
		verb, count = "Rolling back", -n
	}
	fmt.Fprintf(c.output, "%s %d migration(s)...\n", verb, count)
	if err := c.migrator.Steps(ctx, n); err != nil {
		return err
	}
	return c.printVersion(ctx, "Complete.")
}

// RunForce sets the recorded version.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Version forced to %d\n", version)
	return nil
}

// RunVersion prints the applied version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	switch {
	case err != nil:
		return err
	case version == 0:
		c.println("No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.output, "Current version: %d (dirty)\n", version)
	default:
		fmt.Fprintf(c.output, "Current version: %d\n", version)
	}
	return nil
}

// RunStatus prints one row per migration followed by totals.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		c.println("No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, stateLabel(s))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	c.printTotals(summarize(statuses))
	return nil
}

// RunInfo prints the summary without the per-migration table.
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Current version: %d", info.CurrentVersion)
	if info.Dirty {
		fmt.Fprint(c.output, " (dirty)")
	}
	c.println()
	c.printTotals(info)
	return nil
}

func stateLabel(s MigrationStatus) string {
	switch {
	case s.Dirty:
		return "Dirty"
	case s.Applied:
		return "Applied"
	default:
		return "Pending"
	}
}

func (c *CLI) printTotals(info *MigrationInfo) {
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
}

func (c *CLI) printVersion(ctx context.Context, prefix string) error {
	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s Current version: %d\n", prefix, version)
	return nil
}

func (c *CLI) println(a ...any) {
	fmt.Fprintln(c.output, a...)
}
