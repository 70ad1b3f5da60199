package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matheus3301/crmsync/internal/backend"
	"github.com/matheus3301/crmsync/internal/chatstore"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, ErrorBody{Code: code, Message: message})
}

// writeStoreError maps chat store and backend failures onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var httpErr *backend.HTTPError
	switch {
	case errors.Is(err, chatstore.ErrNoSelection):
		writeError(w, http.StatusConflict, "NO_SELECTION", err.Error())
	case errors.Is(err, chatstore.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, "TICKET_NOT_FOUND", err.Error())
	case errors.Is(err, chatstore.ErrUnknownMessage):
		writeError(w, http.StatusNotFound, "MESSAGE_NOT_FOUND", err.Error())
	case errors.Is(err, chatstore.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "EMPTY_MESSAGE", err.Error())
	case errors.As(err, &httpErr):
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "REMOTE_ERROR", err.Error())
	}
}

// decodeBody decodes a single JSON value. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func ticketIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
