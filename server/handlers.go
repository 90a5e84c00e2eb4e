package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/comerc/tgrelay/app"
	"github.com/comerc/tgrelay/forwarder"
	"github.com/comerc/tgrelay/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type handlers struct {
	app *app.App
}

func (h *handlers) listChats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := h.app.Config().ChatsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}
	chats, err := h.app.NewForwarder().ListChats(r.Context(), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if chats == nil {
		chats = []forwarder.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *handlers) startForwardMessages(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req forwarder.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.SourceChatId == 0 || req.DestinationChatId == 0 {
		writeError(w, http.StatusBadRequest, "source_chat_id and destination_channel_id are required")
		return
	}
	if err := h.app.Forwarder().StartForwarding(r.Context(), req); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "success", Message: "Messages forwarding started"})
}

func (h *handlers) stopForwardMessages(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.app.Forwarder().StopForwarding(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "success", Message: "Messages forwarding stopped"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.app.Forwarder().Status())
}

// stats lists the counters for ?date=YYYY-MM-DD, today (UTC) by default.
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	stats := h.app.Stats()
	if stats == nil {
		writeError(w, http.StatusServiceUnavailable, "statistics are not available")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format(store.DateLayout)
	} else if _, err := time.Parse(store.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must look like 2006-01-02")
		return
	}
	counters, err := stats.CountersByDate(date)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

type copiedMessagesResponse struct {
	SourceChatId int64    `json:"source_chat_id"`
	MessageId    int64    `json:"message_id"`
	Copies       []string `json:"copies"`
}

// copiedMessages lists the "<chat>:<message>" copies of
// ?source_chat_id=&message_id=.
func (h *handlers) copiedMessages(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	stats := h.app.Stats()
	if stats == nil {
		writeError(w, http.StatusServiceUnavailable, "statistics are not available")
		return
	}
	query := r.URL.Query()
	srcChatId, err := strconv.ParseInt(query.Get("source_chat_id"), 10, 64)
	if err != nil || srcChatId == 0 {
		writeError(w, http.StatusBadRequest, "source_chat_id must be a non-zero number")
		return
	}
	srcId, err := strconv.ParseInt(query.Get("message_id"), 10, 64)
	if err != nil || srcId <= 0 {
		writeError(w, http.StatusBadRequest, "message_id must be a positive number")
		return
	}
	copies, err := stats.CopiedMessageIds(srcChatId, srcId)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if copies == nil {
		copies = []string{}
	}
	writeJSON(w, http.StatusOK, copiedMessagesResponse{SourceChatId: srcChatId, MessageId: srcId, Copies: copies})
}

func ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]time.Time{"now": time.Now().UTC()})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// statusCode maps forwarder errors onto HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, forwarder.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, forwarder.ErrEmptyChat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, forwarder.ErrLoginRequired):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	zerolog.Ctx(r.Context()).Error().Err(err).Int("code", code).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, response{Status: "error", Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("writeJSON()")
	}
}
