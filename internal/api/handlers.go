package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matheus3301/crmsync/internal/chatstore"
	"github.com/matheus3301/crmsync/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// ConnectionStatus describes the live channel.
type ConnectionStatus struct {
	Profile   string    `json:"profile"`
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	Connected bool      `json:"connected"`
	UptimeMs  int64     `json:"uptimeMs"`
}

func (h *Handler) connectionStatus() ConnectionStatus {
	cs := ConnectionStatus{
		Profile:   h.profile,
		Connected: h.store.Snapshot().Connected,
		UptimeMs:  time.Since(h.startedAt).Milliseconds(),
	}
	if h.machine != nil {
		cs.State = string(h.machine.Current())
		cs.Since = h.machine.Since()
	}
	return cs
}

func (h *Handler) connection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionStatus())
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Initialize(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "CONNECT_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.connectionStatus())
}

func (h *Handler) resync(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Resync(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) setTab(w http.ResponseWriter, r *http.Request) {
	tab, err := domain.ParseTicketStatus(chi.URLParam(r, "tab"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TAB", err.Error())
		return
	}
	if err := h.store.SetTab(r.Context(), tab); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) setFilters(w http.ResponseWriter, r *http.Request) {
	var f chatstore.Filters
	if err := decodeBody(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.store.SetFilters(r.Context(), f); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// FetchTicketsRequest is the body of POST /v1/tickets/fetch. An empty status
// reloads the current tab.
type FetchTicketsRequest struct {
	Status string `json:"status"`
	Cursor string `json:"cursor,omitempty"`
	chatstore.Filters
}

func (h *Handler) fetchTickets(w http.ResponseWriter, r *http.Request) {
	var req FetchTicketsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	q := chatstore.Query{Cursor: req.Cursor, Filters: req.Filters}
	if req.Status == "" {
		q.Status = h.store.Snapshot().Tab
		if q.Status == "" {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", "no status given and no tab active")
			return
		}
	} else {
		st, err := domain.ParseTicketStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
			return
		}
		q.Status = st
	}
	if err := h.store.FetchTickets(r.Context(), q); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) fetchMoreTickets(w http.ResponseWriter, r *http.Request) {
	if err := h.store.FetchMoreTickets(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) updateChat(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "ticket id must be an integer")
		return
	}
	var t domain.Ticket
	if err := decodeBody(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if t.ID == 0 {
		t.ID = id
	}
	if t.ID != id {
		writeError(w, http.StatusBadRequest, "ID_MISMATCH", "body id does not match path")
		return
	}
	if err := h.store.UpdateChat(r.Context(), t); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) removeTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "ticket id must be an integer")
		return
	}
	h.store.RemoveTicket(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "ticket id must be an integer")
		return
	}
	if err := h.store.SelectTicket(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) acceptTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "ticket id must be an integer")
		return
	}
	if err := h.store.AcceptTicket(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

// SendMessageRequest is the body of POST /v1/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	msg, err := h.store.SendMessage(r.Context(), req.Text)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// FetchMessagesRequest is the body of POST /v1/messages/fetch.
type FetchMessagesRequest struct {
	Page int `json:"page"`
}

func (h *Handler) fetchMessages(w http.ResponseWriter, r *http.Request) {
	req := FetchMessagesRequest{Page: 1}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.store.FetchMessages(r.Context(), req.Page); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) fetchMoreMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.store.FetchMoreMessages(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) retryMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RetryMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}
