package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
)

const (
	mercadoPagoName    = "mercadopago"
	mercadoPagoBaseURL = "https://api.mercadopago.com"
	orderExpiration    = 15 * time.Minute
)

// MercadoPagoSettings configures the Mercado Pago orders API client.
type MercadoPagoSettings struct {
	BaseURL     string
	AccessToken string
	// PixPOSID is the external POS id used for dynamic PIX QR orders.
	PixPOSID string
	Timeout  time.Duration
}

// MercadoPago drives Point terminals and PIX QR orders through the orders API.
type MercadoPago struct {
	baseURL  string
	token    string
	pixPOSID string
	client   *http.Client
}

// NewMercadoPago creates a Mercado Pago client.
func NewMercadoPago(s MercadoPagoSettings) (*MercadoPago, error) {
	token := bearer(s.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("mercadopago access token: %w", domainErrors.ErrProviderNotConfigured)
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = mercadoPagoBaseURL
	}
	return &MercadoPago{
		baseURL:  base,
		token:    token,
		pixPOSID: s.PixPOSID,
		client:   newHTTPClient(s.Timeout),
	}, nil
}

func (m *MercadoPago) Name() string { return mercadoPagoName }

type mpOrderRequest struct {
	Type              string        `json:"type"`
	ExternalReference string        `json:"external_reference"`
	ExpirationTime    string        `json:"expiration_time"`
	Description       string        `json:"description,omitempty"`
	Transactions      mpTransaction `json:"transactions"`
	Config            mpOrderConfig `json:"config"`
}

type mpTransaction struct {
	Payments []mpPaymentAmount `json:"payments"`
}

type mpPaymentAmount struct {
	Amount string `json:"amount"`
}

type mpOrderConfig struct {
	Point         *mpPointConfig         `json:"point,omitempty"`
	QR            *mpQRConfig            `json:"qr,omitempty"`
	PaymentMethod *mpPaymentMethodConfig `json:"payment_method,omitempty"`
}

type mpPointConfig struct {
	TerminalID      string `json:"terminal_id"`
	PrintOnTerminal string `json:"print_on_terminal"`
}

type mpQRConfig struct {
	ExternalPOSID string `json:"external_pos_id"`
	Mode          string `json:"mode"`
}

type mpPaymentMethodConfig struct {
	DefaultType         string `json:"default_type"`
	DefaultInstallments int    `json:"default_installments"`
	InstallmentsCost    string `json:"installments_cost"`
}

type mpOrder struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	StatusDetail      string `json:"status_detail"`
	ExternalReference string `json:"external_reference"`
	Transactions      struct {
		Payments []struct {
			ID                string `json:"id"`
			Status            string `json:"status"`
			StatusDetail      string `json:"status_detail"`
			ReferenceID       string `json:"reference_id"`
			AuthorizationCode string `json:"authorization_code"`
			PaymentMethod     struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"payment_method"`
		} `json:"payments"`
	} `json:"transactions"`
	TypeResponse struct {
		QRData string `json:"qr_data"`
	} `json:"type_response"`
}

func (o *mpOrder) result() *ProviderResult {
	raw := o.Status
	r := &ProviderResult{Reference: o.ID}
	if len(o.Transactions.Payments) > 0 {
		p := o.Transactions.Payments[0]
		if p.Status != "" {
			raw = p.Status
		}
		r.NSU = p.ReferenceID
		r.Brand = p.PaymentMethod.ID
		r.AuthorizationCode = p.AuthorizationCode
	}
	r.RawStatus = raw
	r.Status = payment.NormalizeRemoteStatus(raw)
	r.QRPayload = o.TypeResponse.QRData
	return r
}

// StartPix creates a dynamic QR order. The response carries the payload the
// customer scans.
func (m *MercadoPago) StartPix(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	pos := m.pixPOSID
	if pos == "" {
		pos = req.TerminalHint
	}
	if pos == "" {
		return nil, fmt.Errorf("mercadopago pix pos id: %w", domainErrors.ErrProviderNotConfigured)
	}
	order := m.orderRequest(req, "qr")
	order.Config.QR = &mpQRConfig{ExternalPOSID: pos, Mode: "dynamic"}

	res, err := m.createOrder(ctx, req, order)
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(orderExpiration)
	res.ExpiresAt = &exp
	return res, nil
}

// StartCard queues a card order on the Point terminal named by the terminal hint.
func (m *MercadoPago) StartCard(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	if req.TerminalHint == "" {
		return nil, fmt.Errorf("mercadopago terminal id: %w", domainErrors.ErrProviderNotConfigured)
	}
	defaultType := "credit_card"
	if req.Kind == payment.ChannelDebit {
		defaultType = "debit_card"
	}
	order := m.orderRequest(req, "point")
	order.Config.Point = &mpPointConfig{TerminalID: req.TerminalHint, PrintOnTerminal: "no_ticket"}
	order.Config.PaymentMethod = &mpPaymentMethodConfig{
		DefaultType:         defaultType,
		DefaultInstallments: 1,
		InstallmentsCost:    "seller",
	}
	return m.createOrder(ctx, req, order)
}

func (m *MercadoPago) orderRequest(req ChargeRequest, kind string) mpOrderRequest {
	return mpOrderRequest{
		Type:              kind,
		ExternalReference: "pdv-" + req.SessionID,
		ExpirationTime:    "PT15M",
		Description:       req.Description,
		Transactions: mpTransaction{
			Payments: []mpPaymentAmount{{Amount: req.Amount.ProviderString()}},
		},
	}
}

func (m *MercadoPago) createOrder(ctx context.Context, req ChargeRequest, order mpOrderRequest) (*ProviderResult, error) {
	headers := m.headers()
	if req.IdempotencyKey != "" {
		headers["X-Idempotency-Key"] = req.IdempotencyKey
	}
	var created mpOrder
	err := doJSON(ctx, m.client, mercadoPagoName, requestSpec{
		method:  http.MethodPost,
		url:     m.baseURL + "/v1/orders",
		headers: headers,
		body:    order,
	}, &created)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return created.result(), nil
	}

	// The order is re-read once; a failed read still returns the created order.
	current, err := m.getOrder(ctx, created.ID)
	if err != nil || current.ID == "" {
		return created.result(), nil
	}
	if current.TypeResponse.QRData == "" {
		current.TypeResponse.QRData = created.TypeResponse.QRData
	}
	return current.result(), nil
}

// QueryStatus reads an order.
func (m *MercadoPago) QueryStatus(ctx context.Context, reference string) (*ProviderResult, error) {
	order, err := m.getOrder(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = reference
	}
	return order.result(), nil
}

func (m *MercadoPago) getOrder(ctx context.Context, id string) (*mpOrder, error) {
	var order mpOrder
	err := doJSON(ctx, m.client, mercadoPagoName, requestSpec{
		method:  http.MethodGet,
		url:     m.baseURL + "/v1/orders/" + url.PathEscape(id),
		headers: m.headers(),
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Cancel cancels an order. It is confirmed when the order ends up in a
// non-approved final status.
func (m *MercadoPago) Cancel(ctx context.Context, reference string) (bool, error) {
	if reference == "" {
		return false, nil
	}
	var order mpOrder
	err := doJSON(ctx, m.client, mercadoPagoName, requestSpec{
		method:  http.MethodPost,
		url:     m.baseURL + "/v1/orders/" + url.PathEscape(reference) + "/cancel",
		headers: m.headers(),
	}, &order)
	if err != nil {
		return false, err
	}
	return order.result().Status == payment.RemoteDeclined, nil
}

type mpOrderList struct {
	Data []mpOrder `json:"data"`
}

// ClearQueue cancels the given order, then every order still waiting on the
// terminal. An empty queue counts as cleared.
func (m *MercadoPago) ClearQueue(ctx context.Context, reference, terminalHint string) (bool, error) {
	if reference != "" {
		ok, err := m.Cancel(ctx, reference)
		if err == nil && ok && terminalHint == "" {
			return true, nil
		}
	}
	if terminalHint == "" {
		return false, nil
	}

	q := url.Values{}
	q.Set("terminal_id", terminalHint)
	q.Set("status", "at_terminal")
	var list mpOrderList
	err := doJSON(ctx, m.client, mercadoPagoName, requestSpec{
		method:  http.MethodGet,
		url:     m.baseURL + "/v1/orders?" + q.Encode(),
		headers: m.headers(),
	}, &list)
	if err != nil {
		return false, err
	}

	var errs []error
	cleared := true
	for _, o := range list.Data {
		if o.ID == "" || o.result().Status.IsTerminal() {
			continue
		}
		ok, err := m.Cancel(ctx, o.ID)
		if err != nil {
			errs = append(errs, err)
		}
		cleared = cleared && ok
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return cleared, nil
}

func (m *MercadoPago) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + m.token}
}
