package filters_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/filters/filtertest"
)

type failingSpec struct{}

func (failingSpec) Name() string { return "failing" }
func (failingSpec) CreateFilter([]any) (filters.Filter, error) {
	return nil, filters.ErrInvalidFilterParameters
}

func TestRegistry(t *testing.T) {
	r := make(filters.Registry)
	r.Register(&filtertest.Filter{FilterName: "f1"})
	r.Register(&filtertest.Filter{FilterName: "f2"})
	r.Register(failingSpec{})

	f, err := r.CreateFilter("f1", "a", 1.0)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1.0}, f.(*filtertest.Filter).Args)

	_, err = r.CreateFilter("f3")
	assert.EqualError(t, err, "filter not found: f3")

	_, err = r.CreateFilter("failing")
	assert.True(t, errors.Is(err, filters.ErrInvalidFilterParameters))
}
