package flowid

import (
	"io"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var ulidFlowIDRegex = regexp.MustCompile(`^[0-7][0-9A-HJKMNP-TV-Z]{25}$`)

type ulidGenerator struct {
	sync.Mutex
	r io.Reader
}

// NewULIDGenerator creates a generator of lexicographically sortable
// flow ids, https://github.com/ulid/spec. It is safe for concurrent use.
func NewULIDGenerator() Generator {
	return NewULIDGeneratorWithEntropyProvider(rand.New(rand.NewSource(time.Now().UTC().UnixNano()))) // #nosec
}

// NewULIDGeneratorWithEntropyProvider creates a ULID generator reading
// the random part of the ids from r.
func NewULIDGeneratorWithEntropyProvider(r io.Reader) Generator {
	return &ulidGenerator{r: r}
}

func (g *ulidGenerator) Generate() (string, error) {
	g.Lock()
	id, err := ulid.New(ulid.Now(), g.r)
	g.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (g *ulidGenerator) MustGenerate() string {
	flowId, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return flowId
}

func (g *ulidGenerator) IsValid(flowId string) bool {
	return ulidFlowIDRegex.MatchString(flowId)
}
