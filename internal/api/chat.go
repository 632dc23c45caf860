package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/querydesk/querydesk/internal/auth"
	"github.com/querydesk/querydesk/internal/config"
	"github.com/querydesk/querydesk/internal/conversation"
	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/pipeline"
)

const maxChatBodyBytes = 64 << 10

type queryRequest struct {
	Message   string `json:"message"`
	DatasetID string `json:"datasetId"`
}

type chatRequest struct {
	Message        string `json:"message"`
	DatasetID      string `json:"datasetId"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	pipeline.Outcome
	ConversationID string `json:"conversationId"`
}

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}

	var request queryRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	outcome := deps.Pipeline.Process(r.Context(), pipeline.Request{
		Message:   request.Message,
		DatasetID: resolveDataset(cfg, request.DatasetID),
		Subject:   subjectFromRequest(r),
	})
	writeJSON(w, http.StatusOK, outcome)
}

func handleChatMessage(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil || deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	var request chatRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	summary := deps.Conversations.Append(request.ConversationID, conversation.Message{
		Sender: conversation.SenderUser,
		Text:   request.Message,
	})
	outcome := deps.Pipeline.Process(r.Context(), pipeline.Request{
		Message:   request.Message,
		DatasetID: resolveDataset(cfg, request.DatasetID),
		Subject:   subjectFromRequest(r),
	})
	deps.Conversations.Append(summary.ID, conversation.Message{
		Sender:  conversation.SenderBot,
		Text:    outcome.Reply,
		Emotion: outcome.Emotion,
		Intent:  outcome.Intent,
		SQL:     outcome.SQL,
		Data:    outcome.Data,
	})

	writeJSON(w, http.StatusOK, chatResponse{Outcome: outcome, ConversationID: summary.ID})
}

func handleListConversations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": deps.Conversations.List()})
}

func handleGetConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	messages, ok := deps.Conversations.Messages(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation not found", false, map[string]any{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "messages": messages})
}

func handleListDatasets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"datasets": dataset.All()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

// resolveDataset maps the request's dataset to a known ID. Unknown names are
// passed through so the pipeline answers them with its fallback reply.
func resolveDataset(cfg config.Config, raw string) dataset.ID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if cfg.Pipeline.DefaultDataset != "" {
			return cfg.Pipeline.DefaultDataset
		}
		return dataset.Default
	}
	if id, ok := dataset.ParseID(raw); ok {
		return id
	}
	return dataset.ID(raw)
}

func subjectFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Subject
	}
	return ""
}
