package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"finpulse/internal/core"
	"finpulse/internal/ledger"
)

const maxBodyBytes = 64 << 10

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type providerRequest struct {
	Credential string `json:"credential"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// transactionRequest uses the wire field names of stored documents.
type transactionRequest struct {
	Title    string     `json:"title"`
	Amount   core.Money `json:"amount"`
	Type     string     `json:"type"`
	Category string     `json:"category"`
	Method   string     `json:"method"`
}

func (t transactionRequest) input() core.TransactionInput {
	return core.TransactionInput{
		Title:    t.Title,
		Amount:   t.Amount,
		Kind:     core.Kind(t.Type),
		Category: t.Category,
		Method:   core.Method(t.Method),
	}
}

type patchRequest struct {
	Title  *string     `json:"title"`
	Amount *core.Money `json:"amount"`
}

type quickRequest struct {
	Amount *core.Money `json:"amount"`
}

type goalRequest struct {
	Name   string     `json:"goalName"`
	Amount core.Money `json:"goalAmount"`
}

type preferencesRequest struct {
	Theme  *string            `json:"theme"`
	Tab    *string            `json:"tab"`
	Filter *ledger.ListFilter `json:"filter"`
}

// decodeJSON reads one JSON object into dst. Unknown fields, trailing data
// and oversized bodies are validation failures. An empty body is allowed
// when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return bodyError(err)
	}
	if dec.More() {
		return core.NewValidationError("body", "must contain a single JSON object")
	}
	return nil
}

func bodyError(err error) error {
	var (
		typeErr  *json.UnmarshalTypeError
		syntax   *json.SyntaxError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		return core.NewValidationError("amount", "must be a non-negative number")
	case errors.As(err, &typeErr):
		return core.NewValidationError(typeErr.Field, fmt.Sprintf("must be a %s", typeErr.Type))
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return core.NewValidationError("body", "malformed JSON")
	case errors.As(err, &tooLarge):
		return core.NewValidationError("body", "too large")
	case errors.Is(err, io.EOF):
		return core.NewValidationError("body", "must not be empty")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return core.NewValidationError(field, "unknown field")
	default:
		return core.NewValidationError("body", "invalid request body")
	}
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
