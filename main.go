package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/davecgh/go-spew/spew"

	tabflowApp "tabflow/internal/app"
	"tabflow/internal/dbclient"
	"tabflow/internal/etl"
)

const usage = `tabflow runs tabular flows: load a package, unpivot/transform it, write a sink.

Usage:
  tabflow run      -f flow.yaml [-f more.yaml]
  tabflow describe -f flow.yaml [-rows N] [-dump]
  tabflow watch    -f flow.yaml [-f more.yaml]
  tabflow history  [-f flow.yaml | -name NAME] [-limit N]
  tabflow sources  [-url DATABASE_URL]
  tabflow mcp      -f flow.yaml [-f more.yaml]

Environment:
  TABFLOW_STORE        run history database (default: user config dir)
  TABFLOW_RUN_TIMEOUT  seconds a single run may take (default 300)
`

// fileList collects repeated -f flags.
type fileList []string

func (f *fileList) String() string     { return strings.Join(*f, ",") }
func (f *fileList) Set(v string) error { *f = append(*f, v); return nil }

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("tabflow: ")

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(ctx, args)
	case "describe":
		err = describeCmd(ctx, args)
	case "watch":
		err = watchCmd(ctx, args)
	case "history":
		err = historyCmd(ctx, args)
	case "sources":
		err = sourcesCmd(ctx, args)
	case "mcp":
		err = mcpCmd(ctx, args)
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func start(ctx context.Context, history bool) (*tabflowApp.App, error) {
	app := tabflowApp.New()
	if err := app.Startup(ctx, history); err != nil {
		return nil, err
	}
	return app, nil
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var files fileList
	fs.Var(&files, "f", "flow file (repeatable)")
	fs.Parse(args)

	flows, err := tabflowApp.LoadFlows(files)
	if err != nil {
		return err
	}
	app, err := start(ctx, true)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	results, err := app.RunFlows(ctx, flows)
	for i, r := range results {
		fmt.Printf("%s: %s, %d row(s) read, %d written in %s (run %s)\n",
			flows[i].Name, r.Status, r.RowsRead, r.RowsWritten, r.Duration.Round(time.Millisecond), r.RunID)
	}
	return err
}

func describeCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	var files fileList
	fs.Var(&files, "f", "flow file")
	rows := fs.Int("rows", 5, "rows to preview per resource")
	dump := fs.Bool("dump", false, "dump the resolved unpivot plans instead of JSON")
	fs.Parse(args)

	flows, err := tabflowApp.LoadFlows(files)
	if err != nil {
		return err
	}
	app, err := start(ctx, false)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	for _, f := range flows {
		d, err := app.DescribeFlow(ctx, f, *rows)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		if *dump {
			cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
			cfg.Dump(d.Plans)
			continue
		}
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

func watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var files fileList
	fs.Var(&files, "f", "flow file (repeatable)")
	fs.Parse(args)

	flows, err := tabflowApp.LoadFlows(files)
	if err != nil {
		return err
	}
	app, err := start(ctx, true)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	log.Printf("watching %d flow(s); press Ctrl+C to stop", len(flows))
	return app.Watch(ctx, flows)
}

func historyCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var files fileList
	fs.Var(&files, "f", "flow file")
	name := fs.String("name", "", "flow name (default: all flows)")
	limit := fs.Int("limit", 20, "maximum runs to show")
	fs.Parse(args)

	if len(files) > 0 {
		flows, err := tabflowApp.LoadFlows(files[:1])
		if err != nil {
			return err
		}
		*name = flows[0].Name
	}
	app, err := start(ctx, true)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	logs, err := app.History(*name, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tFLOW\tTRIGGER\tSTATUS\tREAD\tWRITTEN\tDURATION\tERROR")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			l.StartedAt.Local().Format(time.DateTime), l.JobName, l.Trigger, l.Status,
			l.RowsRead, l.RowsWritten, l.Duration().Round(time.Millisecond), l.Error)
	}
	return w.Flush()
}

func sourcesCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	dbURL := fs.String("url", "", "list the tables of this database instead")
	fs.Parse(args)

	if *dbURL != "" {
		return inspectCmd(ctx, *dbURL)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tFORMATS\tCONFIG")
	for _, s := range etl.ListSources() {
		keys := make([]string, len(s.ConfigFields))
		for i, f := range s.ConfigFields {
			keys[i] = f.Key
			if f.Required {
				keys[i] += "*"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Type, strings.Join(s.Formats, ","), strings.Join(keys, " "))
	}
	fmt.Fprintf(w, "\nSINKS\t%s\t\n", strings.Join(etl.ListDestinations(), ", "))
	return w.Flush()
}

func inspectCmd(ctx context.Context, dbURL string) error {
	app, err := start(ctx, false)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	info, err := app.Flows().InspectDatabase(ctx, dbURL)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tCOLUMN\tTYPE\tFIELD TYPE")
	for _, t := range info.Tables {
		if len(t.Columns) == 0 {
			fmt.Fprintf(w, "%s\t\t\t\n", t.Name)
		}
		for _, c := range t.Columns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, c.Name, c.Type, dbclient.FieldType(c.Type))
		}
	}
	return w.Flush()
}

func mcpCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	var files fileList
	fs.Var(&files, "f", "flow file (repeatable)")
	fs.Parse(args)

	if len(files) == 0 {
		return fmt.Errorf("no flow file given (use -f)")
	}
	app, err := start(ctx, true)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	return app.ServeMCP(ctx, files)
}
