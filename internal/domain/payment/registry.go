package payment

import (
	"sort"

	"github.com/cassiomorais/pospay/internal/domain/errors"
)

// fallbackMethods keeps checkout usable when a station has nothing active configured.
var fallbackMethods = []PaymentMethod{
	{ID: "fallback-pix", DisplayName: "PIX", Kind: ChannelPix, SortOrder: 0, Active: true},
	{ID: "fallback-credit", DisplayName: "Credito", Kind: ChannelCredit, SortOrder: 1, Active: true},
	{ID: "fallback-debit", DisplayName: "Debito", Kind: ChannelDebit, SortOrder: 2, Active: true},
	{ID: "fallback-cash", DisplayName: "Dinheiro", Kind: ChannelCash, SortOrder: 3, Active: true},
}

// Registry holds a station's payment method configuration.
// It is immutable after construction.
type Registry struct {
	methods []PaymentMethod
}

// NewRegistry creates a registry from the configured methods.
func NewRegistry(methods []PaymentMethod) *Registry {
	cp := make([]PaymentMethod, len(methods))
	copy(cp, methods)
	return &Registry{methods: cp}
}

// ActiveMethods returns the active methods ordered for display, or the
// fallback set {PIX, Credit, Debit, Cash} when none is active.
func (r *Registry) ActiveMethods() []PaymentMethod {
	active := make([]PaymentMethod, 0, len(r.methods))
	for _, m := range r.methods {
		if m.Active {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		out := make([]PaymentMethod, len(fallbackMethods))
		copy(out, fallbackMethods)
		return out
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].SortOrder != active[j].SortOrder {
			return active[i].SortOrder < active[j].SortOrder
		}
		return active[i].DisplayName < active[j].DisplayName
	})
	return active
}

// Lookup finds an active method by ID, including the fallback set.
func (r *Registry) Lookup(id string) (PaymentMethod, error) {
	for _, m := range r.ActiveMethods() {
		if m.ID == id {
			return m, nil
		}
	}
	return PaymentMethod{}, errors.ErrUnknownMethod
}

// ResolveChannelKind is the registry-bound form of the package-level resolver.
func (r *Registry) ResolveChannelKind(m PaymentMethod) ChannelKind {
	return ResolveChannelKind(m)
}
