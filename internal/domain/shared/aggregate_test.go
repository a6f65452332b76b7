package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseAggregateRoot_Versioning(t *testing.T) {
	t.Run("new aggregate starts at version 1 and is new", func(t *testing.T) {
		a := NewBaseAggregateRoot()
		assert.Equal(t, 1, a.GetVersion())
		assert.True(t, a.IsNew())
		assert.True(t, a.IsModified())
	})

	t.Run("version bumps once per unit of work", func(t *testing.T) {
		a := BaseAggregateRoot{Version: 4}

		a.MarkModified()
		a.MarkModified()
		assert.Equal(t, 5, a.Version)
		assert.False(t, a.IsNew())

		a.MarkPersisted()
		assert.False(t, a.IsModified())

		a.MarkModified()
		assert.Equal(t, 6, a.Version)
	})
}

func TestDomainError_Is(t *testing.T) {
	detailed := NewDomainError("NOT_FOUND", "location A-01 not found")

	assert.True(t, errors.Is(detailed, ErrNotFound))
	assert.True(t, errors.Is(fmt.Errorf("resolve: %w", detailed), ErrNotFound))
	assert.False(t, errors.Is(detailed, ErrConcurrencyConflict))
	assert.Equal(t, "NOT_FOUND", CodeOf(fmt.Errorf("wrap: %w", detailed)))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestDomainError_Wrap(t *testing.T) {
	cause := errors.New("duplicate key")
	err := WrapDomainError("CONCURRENT_MODIFICATION", "balance changed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestPage_Normalize(t *testing.T) {
	p := Page{}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, 0, p.Offset())

	p = Page{Page: 3, PageSize: 10000}.Normalize()
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, 2*MaxPageSize, p.Offset())

	res := NewPaginated([]int{1, 2}, 21, Page{Page: 1, PageSize: 10})
	assert.Equal(t, 3, res.TotalPages)
}
