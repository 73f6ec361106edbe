package watch

import (
	"github.com/shopspring/decimal"

	"github.com/obentoo/switchdex/internal/common/vercmp"
)

// Resolver combines candidates for one entity by weighted vote.
//
// Candidates are grouped by exact version string and each group's confidence
// is summed. The highest sum wins. Equal sums go to the group holding the most
// authoritative (lowest priority value) candidate, then to the higher version.
type Resolver struct {
	reliability *ReliabilityRegistry
}

// ResolverOption is a functional option for configuring Resolver
type ResolverOption func(*Resolver)

// WithReliability scales each candidate's confidence by its source's reliability score
func WithReliability(registry *ReliabilityRegistry) ResolverOption {
	return func(r *Resolver) {
		r.reliability = registry
	}
}

// NewResolver creates a resolver. Without options votes use intrinsic confidence only.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// voteGroup accumulates the candidates that reported one version
type voteGroup struct {
	version string
	sum     decimal.Decimal
	sources []string
	best    VersionCandidate
}

// Resolve returns the winning version, or false when no candidate votes.
func (r *Resolver) Resolve(candidates []VersionCandidate) (ConsensusResult, bool) {
	var order []*voteGroup
	groups := make(map[string]*voteGroup)

	for _, c := range candidates {
		if !c.Votes() {
			continue
		}

		g, ok := groups[c.Version]
		if !ok {
			g = &voteGroup{version: c.Version, sum: decimal.Zero, best: c}
			groups[c.Version] = g
			order = append(order, g)
		} else if c.Priority < g.best.Priority {
			g.best = c
		}

		g.sum = g.sum.Add(r.weight(c))
		g.sources = append(g.sources, c.Source)
	}

	if len(order) == 0 {
		return ConsensusResult{}, false
	}

	winner := order[0]
	for _, g := range order[1:] {
		if beats(g, winner) {
			winner = g
		}
	}

	return ConsensusResult{
		Version:    winner.version,
		Confidence: winner.sum.InexactFloat64(),
		Sources:    winner.sources,
		Best:       winner.best,
	}, true
}

// weight is the candidate's vote, optionally scaled by source reliability
func (r *Resolver) weight(c VersionCandidate) decimal.Decimal {
	w := decimal.NewFromFloat(c.Confidence)
	if r.reliability != nil {
		w = w.Mul(decimal.NewFromFloat(r.reliability.Score(c.Source)))
	}
	return w
}

// beats reports whether group a wins over group b
func beats(a, b *voteGroup) bool {
	if cmp := a.sum.Cmp(b.sum); cmp != 0 {
		return cmp > 0
	}
	if a.best.Priority != b.best.Priority {
		return a.best.Priority < b.best.Priority
	}
	if cmp := vercmp.Compare(a.version, b.version); cmp != 0 {
		return cmp > 0
	}
	return a.version > b.version
}
