package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/domain"
	"github.com/kaiwen/pointlink/internal/ledger"
)

// APIHandlers exposes the HTTP handlers of the dev server REST API.
type APIHandlers struct {
	logger *slog.Logger
	ledger *ledger.Ledger
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, l *ledger.Ledger) *APIHandlers {
	return &APIHandlers{
		logger: logger,
		ledger: l,
	}
}

// handleLogin exchanges form credentials for a bearer token.
func (h *APIHandlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, &apierr.ValidationError{Detail: "invalid form payload"})
		return
	}
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, &apierr.ValidationError{Detail: "username and password are required"})
		return
	}

	token, err := h.ledger.Authenticate(email, password)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (h *APIHandlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, &apierr.ValidationError{Detail: err.Error()})
		return
	}
	if payload.Name == "" || payload.Email == "" || payload.Password == "" {
		writeError(w, &apierr.ValidationError{Detail: "name, email and password are required"})
		return
	}

	user, err := h.ledger.Register(payload.Name, payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("user registered", "userId", user.UserID)
	respondJSON(w, http.StatusCreated, map[string]string{
		"userId": user.UserID,
		"name":   user.Name,
		"email":  user.Email,
	})
}

// handleLogout exists so clients can signal the end of a session; tokens stay
// valid until they expire.
func (h *APIHandlers) handleLogout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusNoContent, nil)
}

// handleCurrentUser returns the authenticated identity. The response is
// marked uncacheable so clients always see the live balance.
func (h *APIHandlers) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticated(r)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	respondJSON(w, http.StatusOK, user)
}

func (h *APIHandlers) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticated(r)
	if err != nil {
		writeError(w, err)
		return
	}

	txs, err := h.ledger.TransactionsFor(user.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	respondJSON(w, http.StatusOK, txs)
}

func (h *APIHandlers) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticated(r); err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.ledger.Transaction(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (h *APIHandlers) handlePublicTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.PublicTransaction(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (h *APIHandlers) handlePrepare(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticated(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload struct {
		Amount        float64 `json:"amount"`
		Note          string  `json:"note"`
		ReceiverEmail string  `json:"receiver_email"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, &apierr.ValidationError{Detail: err.Error()})
		return
	}

	tx, err := h.ledger.Prepare(user.Email, ledger.PrepareInput{
		Amount:        payload.Amount,
		Note:          payload.Note,
		ReceiverEmail: payload.ReceiverEmail,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("transaction prepared", "transactionId", tx.TransactionID, "senderId", user.UserID)
	respondJSON(w, http.StatusCreated, tx)
}

// handleConfirm claims a transfer for the authenticated receiver.
func (h *APIHandlers) handleConfirm(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticated(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.ledger.Confirm(user.Email, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("transaction confirmed", "transactionId", tx.TransactionID, "receiverId", tx.ReceiverID)
	respondJSON(w, http.StatusOK, tx)
}

// handleConfirmPublic claims a transfer via a shared link, no bearer token
// required.
func (h *APIHandlers) handleConfirmPublic(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, &apierr.ValidationError{Detail: err.Error()})
		return
	}
	if payload.Email == "" {
		writeError(w, &apierr.ValidationError{Detail: "email is required"})
		return
	}

	tx, err := h.ledger.ConfirmPublic(mux.Vars(r)["id"], payload.Email, payload.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("transaction claimed publicly", "transactionId", tx.TransactionID)
	respondJSON(w, http.StatusOK, tx)
}

func (h *APIHandlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticated(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.ledger.Cancel(user.Email, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("transaction cancelled", "transactionId", tx.TransactionID)
	respondJSON(w, http.StatusOK, tx)
}

// authenticated resolves the bearer token to a user.
func (h *APIHandlers) authenticated(r *http.Request) (domain.User, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return domain.User{}, &apierr.AuthError{Detail: "missing bearer token"}
	}
	return h.ledger.UserByToken(token)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

// errorBody is the error envelope: a human-readable detail plus an optional
// machine-readable code.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// writeError translates the error taxonomy into status codes and the error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	var (
		authErr      *apierr.AuthError
		notFoundErr  *apierr.NotFoundError
		processedErr *apierr.AlreadyProcessedError
		validErr     *apierr.ValidationError
	)

	switch {
	case errors.As(err, &authErr):
		respondJSON(w, http.StatusUnauthorized, errorBody{Detail: authErr.Error()})
	case errors.As(err, &notFoundErr):
		respondJSON(w, http.StatusNotFound, errorBody{Detail: notFoundErr.Error()})
	case errors.As(err, &processedErr):
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: processedErr.Error(), Code: "already_processed"})
	case errors.As(err, &validErr):
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: validErr.Error()})
	default:
		respondJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal error"})
	}
}
