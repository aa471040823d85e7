package testutil

import (
	"context"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/providers"
)

// Methods used across tests, shaped like a station's configured list.
var (
	CashMethod   = payment.PaymentMethod{ID: "cash", DisplayName: "Dinheiro", Kind: payment.ChannelCash, NFCeCode: "01", SortOrder: 4, Active: true}
	PixMethod    = payment.PaymentMethod{ID: "pix", DisplayName: "PIX", Kind: payment.ChannelPix, NFCeCode: "17", SortOrder: 1, Active: true}
	CreditMethod = payment.PaymentMethod{ID: "credit", DisplayName: "Cartão de Crédito", Kind: payment.ChannelCredit, NFCeCode: "03", SortOrder: 2, Active: true}
	DebitMethod  = payment.PaymentMethod{ID: "debit", DisplayName: "Cartão de Débito", Kind: payment.ChannelDebit, NFCeCode: "04", SortOrder: 3, Active: true}
)

// ImmediateSleeper skips poll waits unless ctx is done.
func ImmediateSleeper(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Processing returns a processing provider result for reference.
func Processing(reference string) *providers.ProviderResult {
	return &providers.ProviderResult{Status: payment.RemoteProcessing, Reference: reference, RawStatus: "at_terminal"}
}

// Approved returns an approved card result for reference.
func Approved(reference string) *providers.ProviderResult {
	return &providers.ProviderResult{
		Status:            payment.RemoteApproved,
		Reference:         reference,
		NSU:               "000123",
		Brand:             "visa",
		AuthorizationCode: "A1B2C3",
		RawStatus:         "processed",
	}
}

// Declined returns a declined result for reference.
func Declined(reference string) *providers.ProviderResult {
	return &providers.ProviderResult{Status: payment.RemoteDeclined, Reference: reference, RawStatus: "rejected"}
}
