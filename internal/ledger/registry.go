package ledger

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/sells-group/crm-migrate/internal/model"
)

// runState is created per Normalize call and shared by every contact of
// that run only.
type runState struct {
	hashes     hashSet
	targets    *targetRegistry
	currencies *currencySet
}

func newRunState() *runState {
	return &runState{
		hashes:     make(hashSet),
		targets:    &targetRegistry{seen: make(map[string]struct{})},
		currencies: &currencySet{seen: make(map[string]struct{})},
	}
}

type hashSet map[string]struct{}

// add reports false when the hash was already present.
func (h hashSet) add(hash string) bool {
	if _, ok := h[hash]; ok {
		return false
	}
	h[hash] = struct{}{}
	return true
}

// targetRegistry keeps donation targets in first-seen order. Names match
// exactly; no case folding or fuzzy merging.
type targetRegistry struct {
	seen  map[string]struct{}
	names []string
}

func (r *targetRegistry) add(name string) {
	if _, ok := r.seen[name]; ok {
		return
	}
	r.seen[name] = struct{}{}
	r.names = append(r.names, name)
}

func (r *targetRegistry) charities() []model.Charity {
	out := make([]model.Charity, len(r.names))
	for i, name := range r.names {
		out[i] = model.Charity{Name: name, Type: model.UnknownCharityType}
	}
	return out
}

type currencySet struct {
	seen map[string]struct{}
}

func (c *currencySet) add(code string) {
	if code == "" {
		return
	}
	if _, ok := c.seen[code]; ok {
		return
	}
	c.seen[code] = struct{}{}
	if _, err := currency.ParseISO(code); err != nil {
		zap.L().Warn("ledger: currency is not an ISO 4217 code", zap.String("currency", code))
	}
}

func (c *currencySet) codes() []model.CurrencyCode {
	codes := make([]string, 0, len(c.seen))
	for code := range c.seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]model.CurrencyCode, len(codes))
	for i, code := range codes {
		out[i] = model.CurrencyCode{Code: code}
	}
	return out
}
