package github

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v74/github"
	"golang.org/x/sync/errgroup"

	"github.com/kevinmichaelchen/reporemix/internal/models"
)

const (
	DefaultBatchSize = 10

	rateWarnThreshold = 100
	rateWaitThreshold = 10
)

// Traffic is the weekly traffic summary of a repository the user owns.
// Sections GitHub refuses to serve are left nil.
type Traffic struct {
	Views     *TrafficCount   `json:"views,omitempty"`
	Clones    *TrafficCount   `json:"clones,omitempty"`
	Referrers []TrafficSource `json:"referrers,omitempty"`
	Paths     []TrafficSource `json:"paths,omitempty"`
}

type TrafficCount struct {
	Count   int `json:"count"`
	Uniques int `json:"uniques"`
}

type TrafficSource struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Uniques int    `json:"uniques"`
}

// RepoData is one BatchFetch result. Err is set when languages or topics
// could not be fetched; traffic failures only leave Traffic nil.
type RepoData struct {
	Repo      models.Repo       `json:"repo"`
	Languages []models.Language `json:"languages"`
	Topics    []string          `json:"topics"`
	Traffic   *Traffic          `json:"traffic,omitempty"`
	Err       error             `json:"-"`
}

// FetchRepoData fetches languages and topics concurrently, then traffic when
// the user owns the repository.
func (c *Client) FetchRepoData(ctx context.Context, repo models.Repo) RepoData {
	out := RepoData{Repo: repo}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		langs, err := c.ListLanguages(gctx, repo.Owner, repo.Name)
		out.Languages = langs
		return err
	})
	g.Go(func() error {
		topics, err := c.ListTopics(gctx, repo.Owner, repo.Name)
		out.Topics = topics
		return err
	})
	if err := g.Wait(); err != nil {
		out.Err = err
		return out
	}

	if repo.CanPush {
		out.Traffic = c.Traffic(ctx, repo.Owner, repo.Name)
	}
	return out
}

// Traffic gathers views, clones, referrers and paths. Each section is optional
// because GitHub only serves traffic to users with push access.
func (c *Client) Traffic(ctx context.Context, owner, name string) *Traffic {
	var t Traffic
	per := &github.TrafficBreakdownOptions{Per: "week"}

	// Errors are swallowed per section; a nil section means "not available".
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		views, _, err := c.gh.Repositories.ListTrafficViews(gctx, owner, name, per)
		if err == nil {
			t.Views = &TrafficCount{Count: views.GetCount(), Uniques: views.GetUniques()}
		}
		return nil
	})
	g.Go(func() error {
		clones, _, err := c.gh.Repositories.ListTrafficClones(gctx, owner, name, per)
		if err == nil {
			t.Clones = &TrafficCount{Count: clones.GetCount(), Uniques: clones.GetUniques()}
		}
		return nil
	})
	g.Go(func() error {
		refs, _, err := c.gh.Repositories.ListTrafficReferrers(gctx, owner, name)
		if err == nil {
			for _, r := range refs {
				t.Referrers = append(t.Referrers, TrafficSource{Name: r.GetReferrer(), Count: r.GetCount(), Uniques: r.GetUniques()})
			}
		}
		return nil
	})
	g.Go(func() error {
		paths, _, err := c.gh.Repositories.ListTrafficPaths(gctx, owner, name)
		if err == nil {
			for _, p := range paths {
				t.Paths = append(t.Paths, TrafficSource{Name: p.GetPath(), Count: p.GetCount(), Uniques: p.GetUniques()})
			}
		}
		return nil
	})
	_ = g.Wait()

	if t.Views == nil && t.Clones == nil && t.Referrers == nil && t.Paths == nil {
		c.logger.Debug("traffic not available", "repo", owner+"/"+name)
		return nil
	}
	return &t
}

// BatchFetch fetches RepoData for repos in batches of at most batchSize
// concurrent requests. After each batch the core rate limit is checked: below
// 100 remaining a warning is logged, below 10 the call sleeps until the reset
// time plus one second. Results keep the input order.
func (c *Client) BatchFetch(ctx context.Context, repos []models.Repo, batchSize int) ([]RepoData, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([]RepoData, len(repos))
	for start := 0; start < len(repos); start += batchSize {
		end := min(start+batchSize, len(repos))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = c.FetchRepoData(ctx, repos[i])
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return results[:end], err
		}
		if err := c.backoff(ctx); err != nil {
			return results[:end], err
		}
	}
	return results, nil
}

// backoff checks the rate limit and blocks when it is nearly exhausted. A
// failed rate-limit lookup is logged and ignored.
func (c *Client) backoff(ctx context.Context) error {
	rate, err := c.RateLimit(ctx)
	if err != nil {
		c.logger.Warn("rate limit check failed", "error", err)
		return nil
	}
	if rate.Remaining >= rateWarnThreshold {
		return nil
	}

	c.logger.Warn("github rate limit low", "remaining", rate.Remaining, "reset", rate.Reset)
	if rate.Remaining >= rateWaitThreshold {
		return nil
	}

	wait := rate.Reset.Sub(c.now()) + time.Second
	c.logger.Info("waiting for rate limit reset", "wait", wait)
	if c.observer != nil {
		c.observer.RateLimitWait()
	}
	if err := c.sleep(ctx, wait); err != nil {
		return fmt.Errorf("waiting for rate limit reset: %w", err)
	}
	return nil
}
