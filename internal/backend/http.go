package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/domain"
	"github.com/kaiwen/pointlink/internal/session"
)

// HTTPOptions configures the HTTP backend.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
	// Sessions holds the durable bearer token. Login writes the token here
	// before fetching the identity; every other call only reads it.
	Sessions session.Store
}

// HTTP talks to the real transfer service over its REST API.
type HTTP struct {
	baseURL  string
	client   *http.Client
	sessions session.Store
	now      func() time.Time
}

var _ Backend = (*HTTP)(nil)

// NewHTTP builds an HTTP backend.
func NewHTTP(opts HTTPOptions) *HTTP {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTP{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		sessions: opts.Sessions,
		now:      time.Now,
	}
}

// apiError is the error envelope the service returns: a human-readable detail
// plus an optional machine-readable code.
type apiError struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login implements Backend. The token is persisted before the identity fetch
// so the fetch itself can authenticate with it.
func (h *HTTP) Login(ctx context.Context, email, password string) (Session, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var loginResp loginResponse
	if err := h.do(req, &loginResp, "login failed"); err != nil {
		return Session{}, err
	}
	if loginResp.AccessToken == "" {
		return Session{}, &apierr.AuthError{Detail: "login failed"}
	}

	if err := h.sessions.SetToken(loginResp.AccessToken); err != nil {
		return Session{}, fmt.Errorf("store token: %w", err)
	}

	user, err := h.CurrentUser(ctx)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: loginResp.AccessToken, User: user}, nil
}

// Logout implements Backend. Remote failure is reported, never raised.
func (h *HTTP) Logout(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/auth/logout", nil)
	if err != nil {
		return false
	}
	h.authorize(req)
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 400
}

// Register implements Backend.
func (h *HTTP) Register(ctx context.Context, name, email, password string) (Registration, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	req, err := h.jsonRequest(ctx, http.MethodPost, "/auth/register", body)
	if err != nil {
		return Registration{}, err
	}

	var reg Registration
	if err := h.do(req, &reg, "registration failed"); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// CurrentUser implements Backend. The timestamp parameter and no-cache
// headers make sure no intermediary serves a stale balance.
func (h *HTTP) CurrentUser(ctx context.Context) (domain.User, error) {
	req, err := h.freshUserRequest(ctx, url.Values{})
	if err != nil {
		return domain.User{}, err
	}

	var user domain.User
	if err := h.do(req, &user, "failed to fetch user"); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Balance implements Backend.
func (h *HTTP) Balance(ctx context.Context) (float64, error) {
	query := url.Values{}
	query.Set("direct", "true")
	req, err := h.freshUserRequest(ctx, query)
	if err != nil {
		return 0, err
	}

	var user domain.User
	if err := h.do(req, &user, "failed to fetch balance"); err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// Transactions implements Backend.
func (h *HTTP) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	req, err := h.jsonRequest(ctx, http.MethodGet, "/transactions/", nil)
	if err != nil {
		return nil, err
	}

	var txs []domain.Transaction
	if err := h.do(req, &txs, "failed to fetch transactions"); err != nil {
		return nil, err
	}
	return txs, nil
}

// Transaction implements Backend.
func (h *HTTP) Transaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if transactionID == "" {
		return domain.Transaction{}, &apierr.MissingArgumentError{Argument: "transactionId"}
	}
	req, err := h.jsonRequest(ctx, http.MethodGet, "/transactions/"+url.PathEscape(transactionID), nil)
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	if err := h.do(req, &tx, "failed to fetch transaction"); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// PublicTransaction implements Backend.
func (h *HTTP) PublicTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if transactionID == "" {
		return domain.Transaction{}, &apierr.MissingArgumentError{Argument: "transactionId"}
	}
	req, err := h.jsonRequest(ctx, http.MethodGet, "/transactions/public/"+url.PathEscape(transactionID), nil)
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	if err := h.do(req, &tx, "failed to fetch transaction"); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// Prepare implements Backend. SenderID and SenderName travel in the bearer
// token on this path, not in the body.
func (h *HTTP) Prepare(ctx context.Context, in PrepareInput) (domain.Transaction, error) {
	body := map[string]any{
		"amount": in.Amount,
		"note":   in.Note,
	}
	if in.ReceiverEmail != "" {
		body["receiver_email"] = in.ReceiverEmail
	}

	req, err := h.jsonRequest(ctx, http.MethodPost, "/transactions/prepare", body)
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	if err := h.do(req, &tx, "failed to prepare transaction"); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// Confirm implements Backend. The receiver email is a client-side
// precondition only; over HTTP the receiver identity comes from the bearer
// token.
func (h *HTTP) Confirm(ctx context.Context, transactionID, receiverEmail string) (domain.Transaction, error) {
	if err := requireConfirmArgs(transactionID, receiverEmail); err != nil {
		return domain.Transaction{}, err
	}

	req, err := h.jsonRequest(ctx, http.MethodPost, "/transactions/"+url.PathEscape(transactionID)+"/confirm", map[string]any{})
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	if err := h.do(req, &tx, "failed to confirm transaction"); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// ConfirmPublic implements Backend.
func (h *HTTP) ConfirmPublic(ctx context.Context, transactionID, email, name string) (domain.Transaction, error) {
	if err := requireConfirmArgs(transactionID, email); err != nil {
		return domain.Transaction{}, err
	}
	if name == "" {
		name = domain.AnonymousReceiverName
	}

	body := map[string]string{"email": email, "name": name}
	req, err := h.jsonRequest(ctx, http.MethodPost, "/transactions/public/"+url.PathEscape(transactionID)+"/confirm", body)
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	if err := h.do(req, &tx, "claim failed"); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// Cancel implements Backend.
func (h *HTTP) Cancel(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if transactionID == "" {
		return domain.Transaction{}, &apierr.MissingArgumentError{Argument: "transactionId"}
	}

	req, err := h.jsonRequest(ctx, http.MethodPost, "/transactions/"+url.PathEscape(transactionID)+"/cancel", map[string]any{})
	if err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	if err := h.do(req, &tx, "failed to cancel transaction"); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

func (h *HTTP) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	h.authorize(req)
	return req, nil
}

// freshUserRequest builds a /users/me request that defeats HTTP caching.
func (h *HTTP) freshUserRequest(ctx context.Context, query url.Values) (*http.Request, error) {
	if _, ok := h.sessions.Token(); !ok {
		return nil, &apierr.AuthError{Detail: "missing authentication token"}
	}

	query.Set("_t", strconv.FormatInt(h.now().UnixMilli(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/users/me?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")
	h.authorize(req)
	return req, nil
}

// authorize attaches the bearer token when one is present. This is the single
// interception point for every outgoing authenticated request.
func (h *HTTP) authorize(req *http.Request) {
	if token, ok := h.sessions.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// do executes the request and decodes either the success payload or the error
// envelope into the taxonomy.
func (h *HTTP) do(req *http.Request, target any, fallback string) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return &apierr.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return h.mapError(resp, fallback)
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mapError translates an HTTP failure into the error taxonomy, preferring the
// server-supplied detail over the generic fallback message.
func (h *HTTP) mapError(resp *http.Response, fallback string) error {
	var envelope apiError
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		_ = json.Unmarshal(body, &envelope)
	}

	detail := envelope.Detail
	if detail == "" {
		detail = fallback
	}

	if envelope.Code == "already_processed" || strings.Contains(strings.ToLower(envelope.Detail), "already processed") {
		return &apierr.AlreadyProcessedError{Detail: detail}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &apierr.AuthError{Detail: detail}
	case http.StatusNotFound:
		return &apierr.NotFoundError{Detail: detail}
	default:
		return &apierr.ValidationError{Detail: detail}
	}
}
