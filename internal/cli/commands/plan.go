package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/datasource/internal/cli/config"
	"github.com/conduit-lang/datasource/internal/cli/ui"
	"github.com/conduit-lang/datasource/internal/orm/query"
	"github.com/conduit-lang/datasource/internal/orm/schema"
	"github.com/conduit-lang/datasource/internal/orm/sqlexec"
	webquery "github.com/conduit-lang/datasource/internal/web/query"
)

// planOptions are the request parameters of the plan command
type planOptions struct {
	fields string
	filter string
	q      string
	sort   string
	limit  int
	skip   int
	count  bool
}

// values encodes the options as the query string of a list request
func (o planOptions) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("fields", o.fields)
	set("filter", o.filter)
	set("q", o.q)
	set("sort", o.sort)
	if o.limit > 0 {
		v.Set("limit", strconv.Itoa(o.limit))
	}
	if o.skip > 0 {
		v.Set("skip", strconv.Itoa(o.skip))
	}
	return v
}

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	var opts planOptions

	cmd := &cobra.Command{
		Use:   "plan <resource>",
		Short: "Show the query plan and SQL of a request",
		Long: `Build the plan of a list or count request without running it, and print
the plan and the SQL compiled for the configured database.

The flags take the same values as the HTTP query parameters.

Examples:
  datasource plan Order
  datasource plan Order --fields 'total,customer' --limit 10
  datasource plan Order --filter '{"customer":{"name":"Acme"}}' --count
  datasource plan Order --q acme --sort -created_at`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPlan(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.fields, "fields", "", "Fields to select, comma separated or a JSON array")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter as a JSON object")
	cmd.Flags().StringVar(&opts.q, "q", "", "Free text search")
	cmd.Flags().StringVar(&opts.sort, "sort", "", "Sort fields, '-' prefix for descending")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of records")
	cmd.Flags().IntVar(&opts.skip, "skip", 0, "Number of records to skip")
	cmd.Flags().BoolVar(&opts.count, "count", false, "Plan a count request")

	return cmd
}

func runPlan(out, errOut io.Writer, cfg *config.Config, name string, opts planOptions) error {
	registry, err := schema.Load(cfg.Definitions())
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}

	rc, ok := cfg.Resource(name)
	entity, registered := registry.Entity(name)
	if !ok || !registered {
		fmt.Fprint(errOut, ui.ResourceNotFoundError(name, registry.List(), noColor))
		return reportedError{fmt.Errorf("unknown resource: %s", name)}
	}

	fieldMap, err := rc.ParsedFieldMap()
	if err != nil {
		return err
	}
	dialect, err := sqlexec.DialectFor(cfg.Database.Driver)
	if err != nil {
		return err
	}

	builder := query.NewBuilder(entity, query.Config{
		FieldMap:        fieldMap,
		ModelFieldNames: rc.ModelFieldNames,
		DefaultLimit:    rc.DefaultLimit,
	})
	req := &http.Request{URL: &url.URL{RawQuery: opts.values().Encode()}}

	var (
		operation string
		plan      *query.Plan
		stmt      *sqlexec.Statement
	)
	if opts.count {
		operation = "count"
		countOpts, err := webquery.ParseCount(req, rc.QFields)
		if err != nil {
			return err
		}
		plan = builder.Count(countOpts)
		stmt, err = sqlexec.CompileCount(dialect, plan)
		if err != nil {
			return err
		}
	} else {
		operation = "list"
		listOpts, err := webquery.ParseList(req, rc.QFields)
		if err != nil {
			return err
		}
		plan = builder.List(listOpts)
		stmt, err = sqlexec.Compile(dialect, plan)
		if err != nil {
			return err
		}
	}

	description, err := json.MarshalIndent(plan.Describe(), "", "  ")
	if err != nil {
		return err
	}

	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("Resource", entity.Name())
	kv.AddRow("Table", entity.Table())
	kv.AddRow("Operation", operation)
	kv.AddRow("Dialect", dialect.Name())
	kv.Render()
	fmt.Fprintln(out)

	ui.Section(out, "Plan", strings.Split(string(description), "\n"), noColor)
	ui.Section(out, "SQL", []string{stmt.SQL}, noColor)

	args := make([]string, len(stmt.Args))
	for i, arg := range stmt.Args {
		args[i] = fmt.Sprintf("%d: %#v", i+1, arg)
	}
	if len(args) > 0 {
		ui.Section(out, "Args", args, noColor)
	}
	return nil
}
