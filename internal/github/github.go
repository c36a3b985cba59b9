// Package github wraps the GitHub REST API for the sync pipeline: listing the
// authenticated user's repositories, fetching per-repository languages,
// topics and traffic, and watching the core rate limit.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/kevinmichaelchen/reporemix/internal/config"
	"github.com/kevinmichaelchen/reporemix/internal/models"
)

const perPage = 100

// RateObserver receives rate-limit readings. *metrics.Metrics satisfies it.
type RateObserver interface {
	ObserveRateLimit(remaining int)
	RateLimitWait()
}

// Client is a thin wrapper around the go-github REST client.
type Client struct {
	gh       *github.Client
	logger   *slog.Logger
	observer RateObserver

	loginMu sync.Mutex
	login   string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithRateObserver(o RateObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogin seeds the authenticated login so Login never calls /user.
func WithLogin(login string) Option {
	return func(c *Client) { c.login = login }
}

// NewClient builds a client authenticated with cfg.Token. An empty token gives
// an anonymous client. cfg.BaseURL may point at a GitHub Enterprise API root.
func NewClient(cfg config.GitHub, opts ...Option) (*Client, error) {
	httpClient := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	httpClient.Timeout = cfg.Timeout

	gh := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		gh.BaseURL = u
	}

	c := &Client{
		gh:     gh,
		logger: slog.Default(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login returns the authenticated user's login. A successful lookup is
// cached; a failed one is retried on the next call.
func (c *Client) Login(ctx context.Context) (string, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.login != "" {
		return c.login, nil
	}

	u, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	c.login = u.GetLogin()
	return c.login, nil
}

// ListRepositories returns every repository visible to the authenticated user,
// most recently updated first. Paging stops at the first short page.
func (c *Client) ListRepositories(ctx context.Context) ([]models.Repo, error) {
	login, err := c.Login(ctx)
	if err != nil {
		return nil, err
	}

	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Type:        "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage, Page: 1},
	}

	var repos []models.Repo
	for {
		page, _, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list repositories page %d: %w", opts.Page, err)
		}
		for _, r := range page {
			repos = append(repos, toRepo(r, login))
		}
		if len(page) < perPage {
			break
		}
		opts.Page++
	}

	c.logger.Info("fetched repositories", "count", len(repos))
	return repos, nil
}

// GetRepository fetches one repository with its topics. IsOwner is left false
// when the client is anonymous; CanPush follows the permissions GitHub reports
// for the caller.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (models.Repo, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return models.Repo{}, fmt.Errorf("get repository %s/%s: %w", owner, name, err)
	}
	login, err := c.Login(ctx)
	if err != nil {
		c.logger.Debug("no authenticated login", "error", err)
	}
	return toRepo(r, login), nil
}

// ListLanguages returns the language breakdown sorted by bytes, largest first.
// Percentages are rounded to two decimals.
func (c *Client) ListLanguages(ctx context.Context, owner, name string) ([]models.Language, error) {
	raw, _, err := c.gh.Repositories.ListLanguages(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("list languages for %s/%s: %w", owner, name, err)
	}
	return languageBreakdown(raw), nil
}

// ListTopics never returns a nil slice on success.
func (c *Client) ListTopics(ctx context.Context, owner, name string) ([]string, error) {
	topics, _, err := c.gh.Repositories.ListAllTopics(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("list topics for %s/%s: %w", owner, name, err)
	}
	if topics == nil {
		topics = []string{}
	}
	return topics, nil
}

// RateStatus is the core REST rate limit.
type RateStatus struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Reset     time.Time `json:"reset"`
}

func (c *Client) RateLimit(ctx context.Context) (RateStatus, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return RateStatus{}, fmt.Errorf("get rate limit: %w", err)
	}
	core := limits.GetCore()
	if core == nil {
		return RateStatus{}, fmt.Errorf("rate limit response has no core bucket")
	}
	status := RateStatus{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Used:      core.Limit - core.Remaining,
		Reset:     core.Reset.Time,
	}
	if c.observer != nil {
		c.observer.ObserveRateLimit(status.Remaining)
	}
	return status, nil
}

func toRepo(r *github.Repository, login string) models.Repo {
	owner := r.GetOwner().GetLogin()
	return models.Repo{
		GitHubID:      r.GetID(),
		Owner:         owner,
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		URL:           r.GetHTMLURL(),
		HomepageURL:   r.GetHomepage(),
		CloneURL:      r.GetCloneURL(),
		SSHURL:        r.GetSSHURL(),
		DefaultBranch: r.GetDefaultBranch(),
		License:       r.GetLicense().GetSPDXID(),
		Language:      r.GetLanguage(),
		Topics:        append([]string{}, r.Topics...),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		Watchers:      r.GetWatchersCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		SizeKB:        r.GetSize(),
		IsFork:        r.GetFork(),
		IsPrivate:     r.GetPrivate(),
		IsOwner:       login != "" && strings.EqualFold(owner, login),
		CanPush:       r.GetPermissions()["push"],
		ParentRepo:    r.GetParent().GetFullName(),
		SourceRepo:    r.GetSource().GetFullName(),
		HasIssues:     r.GetHasIssues(),
		HasWiki:       r.GetHasWiki(),
		HasPages:      r.GetHasPages(),
		Archived:      r.GetArchived(),
		Disabled:      r.GetDisabled(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
		PushedAt:      r.GetPushedAt().Time,
	}
}

func languageBreakdown(raw map[string]int) []models.Language {
	var total int64
	for _, b := range raw {
		total += int64(b)
	}

	langs := make([]models.Language, 0, len(raw))
	for name, b := range raw {
		var pct float64
		if total > 0 {
			pct = math.Round(float64(b)/float64(total)*10000) / 100
		}
		langs = append(langs, models.Language{Name: name, Bytes: int64(b), Percentage: pct})
	}
	sort.Slice(langs, func(i, j int) bool {
		if langs[i].Bytes != langs[j].Bytes {
			return langs[i].Bytes > langs[j].Bytes
		}
		return langs[i].Name < langs[j].Name
	})
	return langs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
