package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevinmichaelchen/reporemix/internal/export"
	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

// openUserStore loads config, opens the store and resolves the current user.
// The caller closes the store.
func openUserStore(ctx context.Context) (store.Store, models.User, *slog.Logger, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, models.User{}, nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, models.User{}, nil, err
	}
	user, err := currentUser(ctx, cfg, log, st)
	if err != nil {
		_ = st.Close()
		return nil, models.User{}, nil, err
	}
	return st, user, log, nil
}

func trendsCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show daily star totals for the last 30 sampled days",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, user, _, err := openUserStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			trends, err := st.StarTrends(ctx, user.ID, repo)
			if err != nil {
				return err
			}
			if len(trends) == 0 {
				fmt.Println("No star history yet")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tSTARS\tREPOS")
			for _, t := range trends {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", t.Date.Format(time.DateOnly), t.TotalStars, t.ReposTracked)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "Limit to one repository (owner/name)")
	return cmd
}

func languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "Show the 20 languages used by the most repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, user, _, err := openUserStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			langs, err := st.LanguageBreakdown(ctx, user.ID)
			if err != nil {
				return err
			}
			if len(langs) == 0 {
				fmt.Println("No languages recorded yet")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "LANGUAGE\tREPOS\tBYTES\tAVG %")
			for _, l := range langs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\n", l.Name, l.RepoCount, l.TotalBytes, l.AvgPercentage)
			}
			return tw.Flush()
		},
	}
}

// filterFlags binds the repository filter shared by list and export.
type filterFlags struct {
	filter store.RepoFilter
	fork   string
}

func (ff *filterFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&ff.filter.Category, "category", "", "Only this category (e.g. Agent)")
	fs.StringVar(&ff.filter.Language, "language", "", "Only this primary language")
	fs.StringVar(&ff.fork, "fork", "", "Only forks (true) or only non-forks (false)")
	fs.StringVar(&ff.filter.Search, "search", "", "Match name, description or topic")
	fs.StringVar(&ff.filter.Sort, "sort", "", "name, stars, updated, created or vibe")
	fs.StringVar(&ff.filter.Order, "order", "", "asc or desc (default desc)")
}

func (ff *filterFlags) build() (store.RepoFilter, error) {
	f := ff.filter
	if ff.fork != "" {
		v, err := strconv.ParseBool(ff.fork)
		if err != nil {
			return store.RepoFilter{}, fmt.Errorf("--fork: %w", err)
		}
		f.Fork = &v
	}
	if err := f.Validate(); err != nil {
		return store.RepoFilter{}, err
	}
	return f, nil
}

func listCmd() *cobra.Command {
	var ff filterFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List synced repositories with their classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter, err := ff.build()
			if err != nil {
				return err
			}
			st, user, _, err := openUserStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			page, err := st.ListRepositories(ctx, user.ID, filter)
			if err != nil {
				return err
			}
			return printPage(os.Stdout, page)
		},
	}
	ff.bind(cmd)
	cmd.Flags().IntVar(&ff.filter.Limit, "limit", store.DefaultPageSize, "Page size")
	cmd.Flags().IntVar(&ff.filter.Offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&ff.filter.WithEmbedding, "embeddings", false, "Load vectors and report their dimension")
	return cmd
}

func printPage(w io.Writer, page models.RepoPage) error {
	if len(page.Repositories) == 0 {
		_, err := fmt.Fprintln(w, "No repositories match")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tSTARS\tCATEGORY\tVIBE\tLANGUAGES\tVECTOR")
	for _, r := range page.Repositories {
		names := make([]string, 0, len(r.Languages))
		for _, l := range r.Languages {
			names = append(names, l.Name)
		}
		vector := "-"
		if len(r.Embedding) > 0 {
			vector = strconv.Itoa(len(r.Embedding))
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\t%s\t%s\n",
			r.FullName, r.Stars, r.Category, r.VibeScore, strings.Join(names, ","), vector)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d-%d of %d\n", page.Offset+1, page.Offset+len(page.Repositories), page.Total)
	return err
}

func exportCmd() *cobra.Command {
	var (
		ff     filterFlags
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole catalog as CSV or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			filter, err := ff.build()
			if err != nil {
				return err
			}
			st, user, log, err := openUserStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			repos, err := export.Collect(ctx, st, user.ID, filter)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer func() { _ = file.Close() }()
				w = file
			}
			if err := export.Write(w, f, user.Login, time.Now(), repos); err != nil {
				return fmt.Errorf("write %s export: %w", f, err)
			}
			log.Info("exported catalog", "format", string(f), "repositories", len(repos), "output", output)
			return nil
		},
	}
	ff.bind(cmd)
	cmd.Flags().StringVar(&format, "format", string(export.JSON), "csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write (default stdout)")
	return cmd
}
