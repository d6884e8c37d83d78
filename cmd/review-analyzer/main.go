package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logMode string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "review-analyzer",
		Short:         "Fetch, enrich and explore app-store reviews",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logMode, "log", "", "log mode: dev or prod (default: from config)")

	root.AddCommand(refreshCmd())
	root.AddCommand(appsCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(extractedCmd())
	root.AddCommand(retagCmd())
	root.AddCommand(tagCmd())
	root.AddCommand(reviewsCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(trendsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(exportCmd())

	return root
}

func refreshCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "refresh [app-id...]",
		Short: "Fetch, analyze and store the latest reviews of apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one app id or pass --all")
			}
			return runRefresh(cmd.Context(), args, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "refresh every registered app")
	return cmd
}

func appsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage the app registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered apps with their review counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppsList(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <app-id>",
		Short: "Register an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppsAdd(cmd.Context(), args[0])
		},
	})
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage keyword tag rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <app-id>",
		Short: "List the tag rules of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesList(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <app-id> <tag> <keywords>",
		Short: "Add or replace a rule; keywords are comma-separated",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesAdd(cmd.Context(), args[0], args[1], args[2])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <app-id> <tag>",
		Short: "Delete a rule and strip its tag from the app's reviews",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesDelete(cmd.Context(), args[0], args[1])
		},
	})
	return cmd
}

func extractedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extracted",
		Short: "Manage the catalogue of extracted tags",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <app-id>",
		Short: "List extracted tags of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtractedList(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <app-id> <tag>",
		Short: "Delete an extracted tag and strip it from the app's reviews",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtractedDelete(cmd.Context(), args[0], args[1])
		},
	})
	return cmd
}

func retagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retag <app-id>",
		Short: "Re-run keyword and free-text tagging over stored reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetag(cmd.Context(), args[0])
		},
	}
}

func tagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <app-id> <review-id> <tags>",
		Short: "Add comma-separated tags to one review",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTag(cmd.Context(), args[0], args[1], args[2])
		},
	}
}

// filterFlags are shared by the read commands.
type filterFlags struct {
	sentiment string
	minRating int
	maxRating int
	tags      string
	from      string
	to        string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sentiment, "sentiment", "", "comma-separated sentiments (positive,negative,neutral)")
	cmd.Flags().IntVar(&f.minRating, "min-rating", 0, "minimum star rating")
	cmd.Flags().IntVar(&f.maxRating, "max-rating", 0, "maximum star rating")
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma-separated tags, any of which must match")
	cmd.Flags().StringVar(&f.from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "last day, YYYY-MM-DD")
}

func reviewsCmd() *cobra.Command {
	var (
		filter     filterFlags
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "reviews <app-id>",
		Short: "Show stored reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReviews(cmd.Context(), args[0], filter, jsonOutput, limit)
		},
	}

	filter.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 50, "max reviews to show")
	return cmd
}

func statsCmd() *cobra.Command {
	var (
		filter     filterFlags
		jsonOutput bool
		top        int
	)

	cmd := &cobra.Command{
		Use:   "stats <app-id>",
		Short: "Show sentiment, rating and tag statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), args[0], filter, jsonOutput, top)
		},
	}

	filter.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&top, "top", 10, "number of top tags")
	return cmd
}

func trendsCmd() *cobra.Command {
	var (
		filter     filterFlags
		jsonOutput bool
		top        int
	)

	cmd := &cobra.Command{
		Use:   "trends <app-id>",
		Short: "Show sentiment and rating trends over time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrends(cmd.Context(), args[0], filter, jsonOutput, top)
		},
	}

	filter.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&top, "top", 5, "number of tags to trend")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduled refreshes and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func exportCmd() *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "export-postgres",
		Short: "Copy all stored reviews into PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), table)
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "target table (default: from config)")
	return cmd
}
