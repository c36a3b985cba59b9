package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover(t *testing.T) {
	rolledBack := false
	run := func() (err error) {
		defer func() { rolledBack = err != nil }()
		defer Recover(&err)
		panic("disk on fire")
	}

	err := run()
	require.Error(t, err)
	assert.True(t, rolledBack)

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "disk on fire", pe.Value)
	assert.Equal(t, "panic in transaction: disk on fire", err.Error())
}

func TestRecover_NoPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover(&err)
		return nil
	}
	assert.NoError(t, run())
}

func TestRepoFilter_Normalized(t *testing.T) {
	f := RepoFilter{}.Normalized()
	assert.Equal(t, SortUpdated, f.Sort)
	assert.Equal(t, "desc", f.Order)
	assert.Equal(t, DefaultPageSize, f.Limit)
	assert.Zero(t, f.Offset)

	f = RepoFilter{Sort: "stars; DROP TABLE users", Order: "sideways", Limit: 5000, Offset: -3, Search: "  agent "}.Normalized()
	assert.Equal(t, SortUpdated, f.Sort)
	assert.Equal(t, "desc", f.Order)
	assert.Equal(t, MaxPageSize, f.Limit)
	assert.Zero(t, f.Offset)
	assert.Equal(t, "agent", f.Search)

	f = RepoFilter{Sort: SortVibe, Order: "ASC", Limit: 7, Offset: 14}.Normalized()
	assert.Equal(t, SortVibe, f.Sort)
	assert.Equal(t, "asc", f.Order)
	assert.Equal(t, 7, f.Limit)
	assert.Equal(t, 14, f.Offset)
}

func TestRepoFilter_Validate(t *testing.T) {
	assert.NoError(t, RepoFilter{}.Validate())
	assert.NoError(t, RepoFilter{Category: "Agent"}.Validate())
	assert.EqualError(t, RepoFilter{Category: "agent"}.Validate(), `unknown category "agent"`)
}
