package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/paxocial/scribe-mcp-sub003/internal/config"
	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/runtime"
	"github.com/paxocial/scribe-mcp-sub003/internal/service"
	pebblestore "github.com/paxocial/scribe-mcp-sub003/internal/storage/pebble"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

type rootFlags struct {
	dataDir    string
	configPath string
	fsync      string
	logLevel   string
	logFormat  string
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "scribelog",
		Short:         "Append-only, tamper-evident project logs",
		Long:          "scribelog maintains per-project append-only logs chained with content hashes across file rotations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.dataDir, "data-dir", "", "state directory (default: platform data dir)")
	pf.StringVar(&flags.configPath, "config", "", "config file (json or yaml)")
	pf.StringVar(&flags.fsync, "fsync", "always", "index durability: always|interval|never")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: text|json")

	rootCmd.AddCommand(
		appendCmd(flags),
		queryCmd(flags),
		rotateCmd(flags),
		verifyCmd(flags),
		projectsCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openRuntime builds the stack from flags, config file, and SCRIBE_* env.
func openRuntime(flags *rootFlags) (*runtime.Runtime, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	config.FromEnv(&cfg)
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}

	level, err := logpkg.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	format := logpkg.TextFormat
	if strings.EqualFold(cfg.Log.Format, "json") {
		format = logpkg.JSONFormat
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(level), logpkg.WithFormat(format))
	// Pebble logs through the standard library.
	logpkg.RedirectStdLog(logger)

	mode, err := pebblestore.ParseFsyncMode(flags.fsync)
	if err != nil {
		return nil, err
	}
	return runtime.Open(runtime.Options{
		DataDir: flags.dataDir,
		Fsync:   mode,
		Config:  cfg,
		Logger:  logger,
	})
}

func appendCmd(flags *rootFlags) *cobra.Command {
	var (
		project  string
		agent    string
		severity string
		meta     []string
	)
	cmd := &cobra.Command{
		Use:   "append MESSAGE",
		Short: "Append one entry to a project's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := entry.ParseSeverity(severity)
			if err != nil {
				return err
			}
			pairs, err := parseMetaFlags(meta)
			if err != nil {
				return err
			}
			rt, err := openRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			e, err := rt.Service.Append(cmd.Context(), project, service.AppendInput{
				Message:  args[0],
				Severity: sev,
				Agent:    agent,
				Metadata: pairs,
			})
			if err != nil {
				return err
			}
			fmt.Println(e.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "acting agent name (required)")
	cmd.Flags().StringVar(&severity, "severity", "info", "info|success|warning|error|critical")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata pair key=value (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func queryCmd(flags *rootFlags) *cobra.Command {
	var (
		project  string
		reverse  bool
		limit    int
		cursor   string
		filter   string
		severity string
		agent    string
		since    string
		until    string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read a project's entries in chain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.QueryOptions{
				Reverse: reverse,
				Limit:   limit,
				Cursor:  cursor,
				Filter:  filter,
				Agent:   agent,
			}
			if severity != "" {
				sev, err := entry.ParseSeverity(severity)
				if err != nil {
					return err
				}
				opts.Severity = &sev
			}
			var err error
			if opts.Since, err = parseTimeFlag(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if opts.Until, err = parseTimeFlag(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}

			rt, err := openRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			page, err := rt.Service.Query(cmd.Context(), project, opts)
			if err != nil {
				return err
			}
			for _, e := range page.Entries {
				line, err := entry.Encode(e)
				if err != nil {
					return err
				}
				fmt.Println(line)
			}
			for _, sk := range page.Skipped {
				fmt.Fprintf(os.Stderr, "skipped malformed line: segment %d position %d: %s\n", sk.Segment, sk.Pos, sk.Reason)
			}
			if page.NextCursor != "" {
				fmt.Fprintf(os.Stderr, "next cursor: %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "newest first")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries per page (0 = configured default)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume from a previous page's cursor")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter expression, e.g. 'severity == \"error\"'")
	cmd.Flags().StringVar(&severity, "severity", "", "only entries with this severity")
	cmd.Flags().StringVar(&agent, "agent", "", "only entries by this agent")
	cmd.Flags().StringVar(&since, "since", "", "only entries at or after this time (RFC3339 or 'YYYY-MM-DD HH:MM:SS UTC')")
	cmd.Flags().StringVar(&until, "until", "", "only entries at or before this time")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func rotateCmd(flags *rootFlags) *cobra.Command {
	var (
		project      string
		force        bool
		setThreshold int
	)
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Roll over a project's active segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			if setThreshold > 0 {
				if err := rt.Service.SetThreshold(project, setThreshold); err != nil {
					return err
				}
				fmt.Printf("rotation threshold for %s set to %d\n", project, setThreshold)
				if !force {
					return nil
				}
			}
			sum, err := rt.Service.Rotate(cmd.Context(), project, force)
			if err != nil {
				return err
			}
			if !sum.Rotated {
				fmt.Println("no rotation needed")
				return nil
			}
			fmt.Printf("rotated %s: segment %d closed with %d entries (%s), now writing segment %d\n",
				sum.Project, sum.ClosedSequence, sum.ClosedEntries, sum.ChainHash, sum.NewSequence)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&force, "force", false, "rotate even below the threshold")
	cmd.Flags().IntVar(&setThreshold, "set-threshold", 0, "store a per-project rotation threshold override")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func verifyCmd(flags *rootFlags) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay and verify a project's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.Service.Verify(cmd.Context(), project)
			if err != nil {
				return err
			}
			if !rep.OK {
				fmt.Printf("BROKEN: segment %d position %d: %s\n", rep.Break.Segment, rep.Break.Position, rep.Break.Reason)
				if rep.Break.Want != "" || rep.Break.Got != "" {
					fmt.Printf("  want %s\n  got  %s\n", rep.Break.Want, rep.Break.Got)
				}
				return rep.Err()
			}
			fmt.Printf("OK: %d entries across %d segments, root %s\n", rep.Entries, rep.Segments, rep.RootHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name (required)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func projectsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List known projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			names, err := rt.Service.Projects()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}

func parseMetaFlags(pairs []string) ([]entry.Pair, error) {
	out := make([]entry.Pair, 0, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q; want key=value", p)
		}
		out = append(out, entry.Pair{Key: k, Value: v})
	}
	return out, nil
}

func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(entry.TimeLayout, s)
}
