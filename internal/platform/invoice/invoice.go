// Package invoice generates human-readable invoice identifiers. Uniqueness
// is probabilistic: the identifier combines a second-resolution timestamp
// with a random suffix, which is acceptable because invoice numbers are
// human-facing references, not primary keys.
package invoice

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// TypeCode identifies the kind of charge an invoice covers.
type TypeCode string

const (
	TypeLab          TypeCode = "LAB"
	TypeConsultation TypeCode = "CON"
	TypeRegistration TypeCode = "REG"
	TypeService      TypeCode = "SRV"
	TypeReassignment TypeCode = "RSN"
)

// Generator produces invoice numbers of the form
// {prefix}-{typeCode}-{yyyyMMddHHmmss}-{3-digit random}.
type Generator struct {
	prefix string

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a Generator with the given prefix, normally the
// upper-cased center code.
func NewGenerator(prefix string) *Generator {
	return &Generator{
		prefix: strings.ToUpper(prefix),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// Next returns a fresh invoice number for the given charge type.
func (g *Generator) Next(code TypeCode) string {
	g.mu.Lock()
	suffix := g.rng.Intn(1000)
	ts := g.now()
	g.mu.Unlock()

	return fmt.Sprintf("%s-%s-%s-%03d", g.prefix, code, ts.Format("20060102150405"), suffix)
}

// Prefix returns the configured prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}
