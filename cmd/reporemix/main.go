package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kevinmichaelchen/reporemix/internal/config"
	"github.com/kevinmichaelchen/reporemix/internal/github"
	"github.com/kevinmichaelchen/reporemix/internal/logger"
	"github.com/kevinmichaelchen/reporemix/internal/metrics"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/ontology"
	"github.com/kevinmichaelchen/reporemix/internal/pipeline"
	"github.com/kevinmichaelchen/reporemix/internal/postgres"
	"github.com/kevinmichaelchen/reporemix/internal/store"
	"github.com/kevinmichaelchen/reporemix/internal/surrealdb"
)

// login overrides the GitHub lookup of the current user for read commands.
var login string

func main() {
	root := &cobra.Command{
		Use:          "reporemix",
		Short:        "GitHub repositories → classified, embedded catalog",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&login, "login", "", "GitHub login to read as (default: token owner)")

	root.AddCommand(
		migrateCmd(), syncCmd(), statusCmd(), historyCmd(),
		similarCmd(), statsCmd(), trafficCmd(), analyzeCmd(), rateCmd(),
		trendsCmd(), languagesCmd(), listCmd(), exportCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSurrealDB:
		db, err := surrealdb.NewClient(ctx, cfg.Surreal)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return postgres.NewStore(pool), nil
	}
}

func newGitHub(cfg *config.Config, log *slog.Logger, opts ...github.Option) (*github.Client, error) {
	if cfg.GitHub.Token == "" {
		return nil, errors.New("GITHUB_TOKEN is required")
	}
	return github.NewClient(cfg.GitHub, append([]github.Option{github.WithLogger(log)}, opts...)...)
}

// currentUser resolves --login, or the token owner, to a stored user.
func currentUser(ctx context.Context, cfg *config.Config, log *slog.Logger, st store.Store) (models.User, error) {
	name := login
	if name == "" {
		gh, err := newGitHub(cfg, log)
		if err != nil {
			return models.User{}, fmt.Errorf("%w (or pass --login)", err)
		}
		if name, err = gh.Login(ctx); err != nil {
			return models.User{}, err
		}
	}
	return st.EnsureUser(ctx, name)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations or initialize the SurrealDB schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			if cfg.StoreBackend == config.BackendSurrealDB {
				db, err := surrealdb.NewClient(ctx, cfg.Surreal)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()

				if err := db.InitSchema(ctx); err != nil {
					return err
				}
				fmt.Println("Schema initialized")
				return nil
			}

			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return err
			}
			version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			fmt.Printf("Migrated to version %d\n", version)
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, classify, embed and store every repository of the token owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}

			m := metrics.New(prometheus.DefaultRegisterer)
			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("metrics server failed", "addr", metricsAddr, "error", err)
					}
				}()
				defer func() { _ = srv.Shutdown(context.Background()) }()
				log.Info("serving metrics", "addr", metricsAddr)
			}

			gh, err := newGitHub(cfg, log, github.WithRateObserver(m))
			if err != nil {
				return err
			}
			name, err := gh.Login(ctx)
			if err != nil {
				return err
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			// The worker's client belongs to the same token, so it reuses the
			// login resolved above instead of asking /user again.
			newSource := func(token string) (pipeline.Source, error) {
				gc := cfg.GitHub
				gc.Token = token
				c, err := github.NewClient(gc, github.WithLogger(log), github.WithRateObserver(m), github.WithLogin(name))
				if err != nil {
					return nil, err
				}
				return c, nil
			}

			w := pipeline.New(st, newSource, pipeline.WithLogger(log), pipeline.WithMetrics(m))
			job, err := w.Start(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("Sync job %s started for %s\n", job.ID, name)

			runErr := w.Run(ctx, job.UserID, cfg.GitHub.Token, job.ID)

			final, err := st.GetJob(context.WithoutCancel(ctx), job.ID, job.UserID)
			if err != nil {
				return errors.Join(runErr, err)
			}
			printJob(final)
			return runErr
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := currentUser(ctx, cfg, log, st)
			if err != nil {
				return err
			}
			job, err := st.GetJob(ctx, args[0], user.ID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := currentUser(ctx, cfg, log, st)
			if err != nil {
				return err
			}
			jobs, err := st.ListJobs(ctx, user.ID, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No sync jobs yet")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSYNCED\tSTARTED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					j.ID, j.Status, j.ReposSynced, j.TotalRepos,
					j.StartedAt.Local().Format(time.DateTime), j.ErrorMessage)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of jobs")
	return cmd
}

func similarCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "similar [owner/name]",
		Short: "Find the repositories nearest to one already synced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := currentUser(ctx, cfg, log, st)
			if err != nil {
				return err
			}
			results, err := st.Similar(ctx, user.ID, args[0], k)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s has not been synced with an embedding", args[0])
			}
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No results found")
				return nil
			}

			fmt.Printf("Top %d repositories similar to %s:\n\n", len(results), args[0])
			for i, r := range results {
				fmt.Printf("%d. %s  (%.3f)  ★ %d  [%s]\n", i+1, r.FullName, r.Score, r.Stars, r.Category)
				fmt.Printf("   %s\n", r.URL)
				if r.Description != "" {
					fmt.Printf("   %s\n", r.Description)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 10, "Number of results")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog totals and category breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			user, err := currentUser(ctx, cfg, log, st)
			if err != nil {
				return err
			}
			stats, err := st.Stats(ctx, user.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Repos:     %d\n", stats.Total)
			fmt.Printf("Forks:     %d\n", stats.Forks)
			fmt.Printf("Stars:     %d\n", stats.TotalStars)
			fmt.Printf("Languages: %d\n", stats.Languages)
			fmt.Printf("Analyzed:  %d\n", stats.Analyzed)
			fmt.Printf("Embedded:  %d\n", stats.Embedded)
			fmt.Printf("Avg vibe:  %.2f\n", stats.AvgVibe)

			cats, err := st.CategoryBreakdown(ctx, user.ID)
			if err != nil {
				return err
			}
			if len(cats) > 0 {
				fmt.Println("\nCategory breakdown:")
				for _, c := range cats {
					fmt.Printf("  %-16s %4d  vibe %.2f\n", c.Category, c.Count, c.AvgVibe)
				}
			}
			return nil
		},
	}
}

// trafficRow is the printed shape of one BatchFetch result.
type trafficRow struct {
	FullName  string            `json:"full_name"`
	Languages []models.Language `json:"languages,omitempty"`
	Topics    []string          `json:"topics,omitempty"`
	Traffic   *github.Traffic   `json:"traffic,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func trafficCmd() *cobra.Command {
	var (
		limit     int
		ownedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Batch-fetch languages, topics and traffic for your repositories (read-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			gh, err := newGitHub(cfg, log)
			if err != nil {
				return err
			}

			repos, err := gh.ListRepositories(ctx)
			if err != nil {
				return err
			}
			if ownedOnly {
				owned := repos[:0]
				for _, r := range repos {
					if r.IsOwner {
						owned = append(owned, r)
					}
				}
				repos = owned
			}
			if limit > 0 && len(repos) > limit {
				repos = repos[:limit]
			}

			results, fetchErr := gh.BatchFetch(ctx, repos, cfg.GitHub.BatchSize)

			rows := make([]trafficRow, 0, len(results))
			for _, d := range results {
				row := trafficRow{
					FullName:  d.Repo.FullName,
					Languages: d.Languages,
					Topics:    d.Topics,
					Traffic:   d.Traffic,
				}
				if d.Err != nil {
					row.Error = d.Err.Error()
				}
				rows = append(rows, row)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rows); err != nil {
				return err
			}
			return fetchErr
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Only fetch the first N repositories (0 = all)")
	cmd.Flags().BoolVar(&ownedOnly, "owned", false, "Only repositories you own")
	return cmd
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [owner/name]",
		Short: "Classify and score one repository without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			owner, name, ok := strings.Cut(args[0], "/")
			if !ok || owner == "" || name == "" {
				return fmt.Errorf("expected owner/name, got %q", args[0])
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			gh, err := newGitHub(cfg, log)
			if err != nil {
				return err
			}

			repo, err := gh.GetRepository(ctx, owner, name)
			if err != nil {
				return err
			}
			analysis := ontology.Analyze(repo)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				FullName string            `json:"full_name"`
				Analysis ontology.Analysis `json:"analysis"`
			}{repo.FullName, analysis})
		},
	}
}

func rateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate",
		Short: "Show the GitHub core rate limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			gh, err := newGitHub(cfg, log)
			if err != nil {
				return err
			}
			rs, err := gh.RateLimit(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Used %d of %d, %d remaining, resets %s\n",
				rs.Used, rs.Limit, rs.Remaining, rs.Reset.Local().Format(time.DateTime))
			return nil
		},
	}
}

func printJob(j models.SyncJob) {
	fmt.Printf("Job:      %s\n", j.ID)
	fmt.Printf("Status:   %s\n", j.Status)
	fmt.Printf("Progress: %d/%d\n", j.ReposSynced, j.TotalRepos)
	fmt.Printf("Started:  %s\n", j.StartedAt.Local().Format(time.DateTime))
	if j.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", j.CompletedAt.Local().Format(time.DateTime))
	}
	if j.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", j.ErrorMessage)
	}
}
