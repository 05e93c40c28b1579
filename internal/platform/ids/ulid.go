package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produz ULIDs monotônicos; seguro para uso concorrente.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewGenerator() *Generator {
	return newGeneratorFrom(rand.Reader)
}

func newGeneratorFrom(src io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(src, 0),
	}
}

func (g *Generator) New() string {
	return g.NewAt(time.Now())
}

// NewAt gera um ULID com o timestamp informado, útil para ordenar registros pelo relógio injetado.
func (g *Generator) NewAt(ts time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts.UTC()), g.entropy).String()
}

// Valid informa se s é um ULID canônico de 26 caracteres.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
)

func DefaultGenerator() *Generator {
	defaultOnce.Do(func() {
		defaultGen = NewGenerator()
	})
	return defaultGen
}

func NewULID() string {
	return DefaultGenerator().New()
}
