package payment

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ChannelKind is the processing path a payment method resolves to.
type ChannelKind string

const (
	ChannelCash    ChannelKind = "cash"
	ChannelPix     ChannelKind = "pix"
	ChannelCredit  ChannelKind = "credit"
	ChannelDebit   ChannelKind = "debit"
	ChannelOther   ChannelKind = "other"
	ChannelUnknown ChannelKind = ""
)

// IsCard reports whether the kind is driven through the card terminal.
func (k ChannelKind) IsCard() bool {
	return k == ChannelCredit || k == ChannelDebit
}

// IsRemote reports whether authorizing this kind needs an external provider.
func (k ChannelKind) IsRemote() bool {
	return k == ChannelPix || k.IsCard()
}

// PaymentMethod is one configured payment option of a station.
type PaymentMethod struct {
	ID          string
	DisplayName string
	Kind        ChannelKind
	// TefMethod is an optional explicit channel tag ("pix", "credito", "debito")
	// that takes precedence over Kind and DisplayName.
	TefMethod string
	NFCeCode  string
	SortOrder int
	Active    bool
}

var (
	pixTags    = []string{"pix"}
	creditTags = []string{"credit", "credito", "cartao de credito", "credit_card"}
	debitTags  = []string{"debit", "debito", "cartao de debito", "debit_card"}
	cashTags   = []string{"cash", "dinheiro", "especie", "money"}
)

// ResolveChannelKind normalizes a method's free-text metadata to a channel kind.
// The explicit TEF tag wins, then the configured kind, then name heuristics.
// Methods that match nothing resolve to ChannelUnknown; the caller decides the
// policy for those (the orchestrator treats them as manual).
func ResolveChannelKind(m PaymentMethod) ChannelKind {
	if k := matchTag(m.TefMethod); k != ChannelUnknown {
		return k
	}
	switch m.Kind {
	case ChannelCash, ChannelPix, ChannelCredit, ChannelDebit:
		return m.Kind
	}
	if k := matchTag(string(m.Kind)); k != ChannelUnknown {
		return k
	}
	return matchName(m.DisplayName)
}

func matchTag(raw string) ChannelKind {
	tag := fold(raw)
	switch {
	case tag == "":
		return ChannelUnknown
	case contains(pixTags, tag):
		return ChannelPix
	case contains(creditTags, tag):
		return ChannelCredit
	case contains(debitTags, tag):
		return ChannelDebit
	case contains(cashTags, tag):
		return ChannelCash
	}
	return ChannelUnknown
}

func matchName(raw string) ChannelKind {
	name := fold(raw)
	if name == "" {
		return ChannelUnknown
	}
	// "pix" is matched on word boundaries so names like "pixel" stay unknown.
	for _, word := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if word == "pix" {
			return ChannelPix
		}
	}
	switch {
	case strings.Contains(name, "credit") || strings.Contains(name, "credito"):
		return ChannelCredit
	case strings.Contains(name, "debit") || strings.Contains(name, "debito"):
		return ChannelDebit
	case strings.Contains(name, "dinheiro") || strings.Contains(name, "cash") || strings.Contains(name, "especie"):
		return ChannelCash
	}
	return ChannelUnknown
}

// fold lowercases and strips diacritics ("Crédito" -> "credito").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
