// Package export renders a user's catalog as CSV or JSON.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kevinmichaelchen/reporemix/internal/models"
	"github.com/kevinmichaelchen/reporemix/internal/store"
)

type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case CSV, JSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

// Lister is the slice of store.Store an export reads from.
type Lister interface {
	ListRepositories(ctx context.Context, userID string, filter store.RepoFilter) (models.RepoPage, error)
}

// Collect walks every page matching filter. Without an explicit sort the
// catalog comes out most-starred first.
func Collect(ctx context.Context, l Lister, userID string, filter store.RepoFilter) ([]models.CatalogRepo, error) {
	if filter.Sort == "" {
		filter.Sort, filter.Order = store.SortStars, "desc"
	}
	filter.Limit = store.MaxPageSize
	filter.Offset = 0

	out := []models.CatalogRepo{}
	for {
		page, err := l.ListRepositories(ctx, userID, filter)
		if err != nil {
			return nil, fmt.Errorf("export page at %d: %w", filter.Offset, err)
		}
		out = append(out, page.Repositories...)
		filter.Offset += len(page.Repositories)
		if len(page.Repositories) == 0 || filter.Offset >= page.Total {
			return out, nil
		}
	}
}

var csvHeader = []string{
	"name", "full_name", "description", "primary_language", "stars", "forks_count", "is_fork",
	"category", "vibe_score", "complexity_score", "install_difficulty", "created_at", "updated_at",
}

// WriteCSV writes one row per repository under a fixed header. Analysis
// columns are blank for repositories that were never classified.
func WriteCSV(w io.Writer, repos []models.CatalogRepo) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range repos {
		var vibe, complexity, install string
		if r.Category != "" {
			vibe = strconv.FormatFloat(r.VibeScore, 'f', -1, 64)
			complexity = strconv.Itoa(r.ComplexityScore)
			install = strconv.Itoa(r.InstallDifficulty)
		}
		row := []string{
			r.Name, r.FullName, r.Description, r.Language,
			strconv.Itoa(r.Stars), strconv.Itoa(r.Forks), strconv.FormatBool(r.IsFork),
			r.Category, vibe, complexity, install,
			stamp(r.CreatedAt), stamp(r.UpdatedAt),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Document is the JSON export envelope.
type Document struct {
	ExportedAt   time.Time            `json:"exported_at"`
	User         string               `json:"user"`
	Repositories []models.CatalogRepo `json:"repositories"`
}

func WriteJSON(w io.Writer, user string, at time.Time, repos []models.CatalogRepo) error {
	if repos == nil {
		repos = []models.CatalogRepo{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{ExportedAt: at.UTC(), User: user, Repositories: repos})
}

// Write renders repos in format f.
func Write(w io.Writer, f Format, user string, at time.Time, repos []models.CatalogRepo) error {
	switch f {
	case CSV:
		return WriteCSV(w, repos)
	case JSON:
		return WriteJSON(w, user, at, repos)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}
