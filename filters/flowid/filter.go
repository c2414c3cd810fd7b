package flowid

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/claimheader/filters"
)

const (
	Name                = filters.FlowIdName
	ReuseParameterValue = "reuse"
	HeaderName          = "X-Flow-Id"
)

// Generator ids accepted as the second filter argument.
const (
	ULIDGenerator = "ulid"
	UUIDGenerator = "uuid"
)

type flowIdSpec struct {
	generator Generator
}

type flowId struct {
	reuseExisting bool
	generator     Generator
}

// New creates a new instance of the flowId filter spec, that uses the
// ULID generator, unless the filter arguments select another one.
func New() filters.Spec {
	return NewWithGenerator(NewULIDGenerator())
}

// NewWithGenerator creates a new instance of the flowId filter spec,
// that uses the provided generator.
func NewWithGenerator(g Generator) filters.Spec {
	return &flowIdSpec{generator: g}
}

// GeneratorByName returns the generator identified by name, or false if
// the name is unknown.
func GeneratorByName(name string) (Generator, bool) {
	switch strings.ToLower(name) {
	case ULIDGenerator:
		return NewULIDGenerator(), true
	case UUIDGenerator:
		return NewUUIDGenerator(), true
	default:
		return nil, false
	}
}

func (f *flowId) Request(fc filters.FilterContext) {
	r := fc.Request()
	if f.reuseExisting {
		if f.generator.IsValid(r.Header.Get(HeaderName)) {
			return
		}
	}

	flowId, err := f.generator.Generate()
	if err == nil {
		r.Header.Set(HeaderName, flowId)
	} else {
		log.Errorf("failed to generate flow id: %v", err)
	}
}

func (*flowId) Response(filters.FilterContext) {}

// CreateFilter accepts two optional arguments: "reuse" to keep valid
// incoming flow ids, and the id of the generator.
func (spec *flowIdSpec) CreateFilter(fc []any) (filters.Filter, error) {
	if len(fc) > 2 {
		return nil, filters.ErrInvalidFilterParameters
	}

	var reuseExisting bool
	if len(fc) > 0 {
		if r, ok := fc[0].(string); ok {
			reuseExisting = strings.ToLower(r) == ReuseParameterValue
		} else {
			return nil, filters.ErrInvalidFilterParameters
		}
	}

	g := spec.generator
	if len(fc) > 1 {
		id, ok := fc[1].(string)
		if !ok {
			return nil, filters.ErrInvalidFilterParameters
		}

		if id != "" {
			if g, ok = GeneratorByName(id); !ok {
				return nil, filters.ErrInvalidFilterParameters
			}
		}
	}

	return &flowId{reuseExisting: reuseExisting, generator: g}, nil
}

func (*flowIdSpec) Name() string { return Name }
