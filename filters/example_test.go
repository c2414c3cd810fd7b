package filters_test

import (
	"errors"
	"fmt"
	"log"
	"net/http/httptest"

	"github.com/zalando/claimheader/filters"
	"github.com/zalando/claimheader/filters/auth"
	"github.com/zalando/claimheader/filters/filtertest"
)

type customSpec struct{ name string }
type customFilter struct{ value string }

func (s *customSpec) Name() string {
	return s.name
}

// a specification can be used to create filter instances with different config
func (s *customSpec) CreateFilter(config []any) (filters.Filter, error) {
	if len(config) == 0 {
		return nil, errors.New("missing value argument for filter: customFilter")
	}

	value, ok := config[0].(string)
	if !ok {
		return nil, errors.New("invalid type of value argument for filter: customFilter")
	}

	return &customFilter{value}, nil
}

// a simple filter tagging the requests
func (f *customFilter) Request(ctx filters.FilterContext) {
	ctx.Request().Header.Set("X-Custom", f.value)
}

func (f *customFilter) Response(_ filters.FilterContext) {}

func Example() {
	// create registry with the built-in claim filter
	registry := make(filters.Registry)
	registry.Register(auth.NewJwtClaimHeader())

	// create and register the filter specification
	registry.Register(&customSpec{name: "customFilter"})

	f, err := registry.CreateFilter("customFilter", "tagged")
	if err != nil {
		log.Fatal(err)
	}

	ctx := &filtertest.Context{FRequest: httptest.NewRequest("GET", "https://www.example.org", nil)}
	f.Request(ctx)
	fmt.Println(ctx.Request().Header.Get("X-Custom"))

	_, err = registry.CreateFilter(filters.JwtClaimHeaderName)
	fmt.Println(errors.Is(err, filters.ErrInvalidFilterParameters))

	// Output:
	// tagged
	// true
}
