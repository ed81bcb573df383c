// Package idempotency suppresses resubmission of an unchanged cart to the ERP.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/jafarshop/erpsync/internal/domain"
	"github.com/jafarshop/erpsync/internal/erp"
)

// Guard remembers the last successfully submitted request hash per actor.
// Entries for different actors never interact, so a plain sync.Map is enough;
// concurrent calls for the same actor may both send, which only costs one
// redundant request.
type Guard struct {
	volatile map[string]struct{}
	hashes   sync.Map // actorKey -> string
}

// NewGuard creates a guard that ignores the given columns when hashing
func NewGuard(volatileColumns []string) *Guard {
	g := &Guard{volatile: make(map[string]struct{}, len(volatileColumns))}
	for _, name := range volatileColumns {
		g.volatile[strings.ToLower(name)] = struct{}{}
	}
	return g
}

// Hash computes the canonical digest of a request. Volatile and
// informational-only columns are excluded; custom fields are included. Columns
// are sorted by name inside each item so rendering order does not matter.
func (g *Guard) Hash(doc *erp.Document) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	write(doc.Source, doc.SubmitType)
	for _, table := range doc.Tables {
		write("table", table.Name)
		for _, item := range table.Items {
			cols := make([]erp.Column, 0, len(item.Columns))
			for _, c := range item.Columns {
				if c.IsInformationalOnly || g.isVolatile(c.Name) {
					continue
				}
				cols = append(cols, c)
			}
			sort.SliceStable(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })

			write("item")
			for _, c := range cols {
				write(c.Name, c.Value)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Guard) isVolatile(name string) bool {
	_, ok := g.volatile[strings.ToLower(name)]
	return ok
}

// ShouldSend reports whether a request with this hash must reach the ERP.
// Order creation and forced submissions always send.
func (g *Guard) ShouldSend(actorKey, hash string, kind domain.SubmissionKind) bool {
	if kind.CreatesOrder() || kind.IsForced() {
		return true
	}
	last, ok := g.hashes.Load(actorKey)
	return !ok || last.(string) != hash
}

// Record stores hash as the last successful submission of actorKey
func (g *Guard) Record(actorKey, hash string) {
	g.hashes.Store(actorKey, hash)
}

// Invalidate forgets the last hash of actorKey
func (g *Guard) Invalidate(actorKey string) {
	g.hashes.Delete(actorKey)
}
