package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"golang.org/x/sync/singleflight"
)

const (
	stoneName = "stone"

	StoneHomologacao = "homologacao"
	StoneProducao    = "producao"

	tokenRefreshMargin = 30 * time.Second
	defaultTokenTTL    = 5 * time.Minute
)

// StoneURLs are the Stone Connect endpoints of one environment. Status and
// cancel URLs carry an ":id" placeholder.
type StoneURLs struct {
	Auth    string
	Payment string
	Status  string
	Cancel  string
}

// StoneSettings configures the Stone Connect client.
type StoneSettings struct {
	ClientID     string
	ClientSecret string
	Environment  string
	Homologacao  StoneURLs
	Producao     StoneURLs
	Timeout      time.Duration
}

// URLs returns the endpoints for the configured environment.
func (s StoneSettings) URLs() StoneURLs {
	if s.Environment == StoneProducao {
		return s.Producao
	}
	return s.Homologacao
}

// Stone drives Stone Connect terminals using client-credentials auth.
type Stone struct {
	clientID     string
	clientSecret string
	urls         StoneURLs
	client       *http.Client

	group     singleflight.Group
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewStone creates a Stone Connect client.
func NewStone(s StoneSettings) (*Stone, error) {
	if s.ClientID == "" || s.ClientSecret == "" {
		return nil, fmt.Errorf("stone client credentials: %w", domainErrors.ErrProviderNotConfigured)
	}
	urls := s.URLs()
	for name, v := range map[string]string{"auth": urls.Auth, "payment": urls.Payment, "status": urls.Status, "cancel": urls.Cancel} {
		if v == "" {
			return nil, fmt.Errorf("stone %s url for %q: %w", name, s.Environment, domainErrors.ErrProviderNotConfigured)
		}
	}
	return &Stone{
		clientID:     s.ClientID,
		clientSecret: s.ClientSecret,
		urls:         urls,
		client:       newHTTPClient(s.Timeout),
	}, nil
}

func (s *Stone) Name() string { return stoneName }

type stoneToken struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	AccessToken2 string `json:"accessToken"`
	ExpiresIn    int    `json:"expires_in"`
}

// accessToken returns a cached token, fetching a new one when it is about to
// expire. Concurrent refreshes share one request.
func (s *Stone) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && time.Now().Before(s.expiresAt) {
		t := s.token
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", s.clientID)
		form.Set("client_secret", s.clientSecret)

		var tok stoneToken
		if err := doJSON(ctx, s.client, stoneName, requestSpec{
			method: http.MethodPost,
			url:    s.urls.Auth,
			form:   form.Encode(),
		}, &tok); err != nil {
			return "", fmt.Errorf("authenticate: %w", err)
		}

		token := firstNonEmpty(tok.AccessToken, tok.Token, tok.AccessToken2)
		if token == "" {
			return "", fmt.Errorf("stone: token missing from auth response: %w", domainErrors.ErrProviderUnavailable)
		}
		ttl := defaultTokenTTL
		if tok.ExpiresIn > 0 {
			ttl = time.Duration(tok.ExpiresIn) * time.Second
		}

		s.mu.Lock()
		s.token = token
		s.expiresAt = time.Now().Add(ttl - tokenRefreshMargin)
		s.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type stonePaymentRequest struct {
	Amount      string `json:"amount"`
	Method      string `json:"method"`
	TerminalID  string `json:"terminal_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference"`
}

type stonePayment struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	State             string `json:"state"`
	NSU               string `json:"nsu"`
	ReferenceID       string `json:"reference_id"`
	CardBrand         string `json:"card_brand"`
	PaymentMethod     string `json:"payment_method"`
	AuthorizationCode string `json:"authorization_code"`
	QRCode            string `json:"qr_code"`
}

type stoneResponse struct {
	stonePayment
	Payment      *stonePayment  `json:"payment"`
	Transaction  *stonePayment  `json:"transaction"`
	Transactions []stonePayment `json:"transactions"`
}

// result picks the payment object out of the envelope variants Stone returns.
func (r *stoneResponse) result() *ProviderResult {
	p := &r.stonePayment
	switch {
	case r.Payment != nil:
		p = r.Payment
	case r.Transaction != nil:
		p = r.Transaction
	case len(r.Transactions) > 0:
		p = &r.Transactions[0]
	}
	raw := firstNonEmpty(p.Status, r.Status, r.State)
	return &ProviderResult{
		Status:            payment.NormalizeRemoteStatus(raw),
		Reference:         firstNonEmpty(p.ID, r.ID),
		NSU:               firstNonEmpty(p.NSU, p.ReferenceID),
		Brand:             firstNonEmpty(p.CardBrand, p.PaymentMethod),
		AuthorizationCode: p.AuthorizationCode,
		QRPayload:         firstNonEmpty(p.QRCode, r.QRCode),
		RawStatus:         raw,
	}
}

func (s *Stone) StartPix(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	res, err := s.start(ctx, req, "pix")
	if err != nil {
		return nil, err
	}
	if res.Status == payment.RemoteProcessing {
		exp := time.Now().Add(orderExpiration)
		res.ExpiresAt = &exp
	}
	return res, nil
}

func (s *Stone) StartCard(ctx context.Context, req ChargeRequest) (*ProviderResult, error) {
	if req.TerminalHint == "" {
		return nil, fmt.Errorf("stone terminal id: %w", domainErrors.ErrProviderNotConfigured)
	}
	method := "credit"
	if req.Kind == payment.ChannelDebit {
		method = "debit"
	}
	return s.start(ctx, req, method)
}

func (s *Stone) start(ctx context.Context, req ChargeRequest, method string) (*ProviderResult, error) {
	body := stonePaymentRequest{
		Amount:      req.Amount.ProviderString(),
		Method:      method,
		TerminalID:  req.TerminalHint,
		Description: req.Description,
		Reference:   "pdv-" + req.SessionID,
	}
	var resp stoneResponse
	if err := s.call(ctx, http.MethodPost, s.urls.Payment, body, &resp); err != nil {
		return nil, err
	}
	return resp.result(), nil
}

func (s *Stone) QueryStatus(ctx context.Context, reference string) (*ProviderResult, error) {
	var resp stoneResponse
	if err := s.call(ctx, http.MethodGet, expandID(s.urls.Status, reference), nil, &resp); err != nil {
		return nil, err
	}
	res := resp.result()
	if res.Reference == "" {
		res.Reference = reference
	}
	return res, nil
}

// Cancel is confirmed when the payment reports a non-approved final status.
func (s *Stone) Cancel(ctx context.Context, reference string) (bool, error) {
	if reference == "" {
		return false, nil
	}
	var resp stoneResponse
	if err := s.call(ctx, http.MethodPost, expandID(s.urls.Cancel, reference), nil, &resp); err != nil {
		return false, err
	}
	return resp.result().Status == payment.RemoteDeclined, nil
}

// ClearQueue falls back to cancelling the reference: Stone Connect has no
// terminal-wide queue endpoint.
func (s *Stone) ClearQueue(ctx context.Context, reference, _ string) (bool, error) {
	return s.Cancel(ctx, reference)
}

func (s *Stone) call(ctx context.Context, method, target string, body, out any) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	err = doJSON(ctx, s.client, stoneName, requestSpec{
		method:  method,
		url:     target,
		headers: map[string]string{"Authorization": "Bearer " + token},
		body:    body,
	}, out)
	if err != nil && isUnauthorized(err) {
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
	}
	return err
}

func isUnauthorized(err error) bool {
	return errors.Is(err, domainErrors.ErrProviderNotConfigured)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
