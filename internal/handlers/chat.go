package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/eldtechnologies/agentdeck/internal/chat"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/render"
)

// maxAttachmentSize bounds chat attachments and voice recordings.
const maxAttachmentSize = 10 << 20

type sendRequest struct {
	Text string `json:"text"`
}

// sendResponse is the conversation after a send, with the agent's replies.
type sendResponse struct {
	chat.View
	Replies []models.Message `json:"replies,omitempty"`
}

func wantHTML(r *http.Request) bool {
	return r.URL.Query().Get("render") == "html"
}

func (h *Handler) view(r *http.Request, v chat.View) chat.View {
	if wantHTML(r) {
		v.Messages = render.Messages(v.Messages)
	}
	if v.Messages == nil {
		v.Messages = []models.Message{}
	}
	return v
}

// Messages loads the persisted conversation with an agent into the
// session cache and returns it.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	agentID := agentParam(r)
	sess := h.session(r)

	if _, err := sess.Load(r.Context(), agentID); err != nil {
		h.logger.Error().Err(err).Str("agent", agentID).Msg("failed to load messages")
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	h.JSON(w, http.StatusOK, h.view(r, sess.View(agentID)))
}

// SendMessage accepts a JSON body {"text"} or a multipart form with text
// and an optional image file. With ?async=true it answers 202 as soon as
// the message is queued; otherwise it waits for the agent's reply.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	agentID := agentParam(r)
	in, err := parseSendInput(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := h.session(r)
	ex, err := sess.Send(r.Context(), agentID, in)
	if err != nil {
		h.sendError(w, err)
		return
	}

	if _, err := h.Redis.IncrementSends(r.Context(), identity(r).UserID.String()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to count send")
	}

	h.settle(w, r, sess, ex)
}

// Retry re-sends the last failed message.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	agentID := agentParam(r)
	sess := h.session(r)

	ex, err := sess.Retry(r.Context(), agentID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.settle(w, r, sess, ex)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, sess *chat.Session, ex *chat.Exchange) {
	if r.URL.Query().Get("async") == "true" {
		h.JSON(w, http.StatusAccepted, h.view(r, sess.View(ex.AgentID)))
		return
	}

	replies, err := ex.Wait(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; the send keeps running in the background.
			return
		}
		v := h.view(r, sess.View(ex.AgentID))
		h.JSON(w, http.StatusBadGateway, map[string]any{
			"error":    err.Error(),
			"state":    v.State,
			"messages": v.Messages,
		})
		return
	}

	if wantHTML(r) {
		replies = render.Messages(replies)
	}
	h.JSON(w, http.StatusOK, sendResponse{View: h.view(r, sess.View(ex.AgentID)), Replies: replies})
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrUnsupportedAttachment):
		h.Error(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, chat.ErrSendInFlight), errors.Is(err, chat.ErrNothingToRetry):
		h.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("send failed")
		h.Error(w, http.StatusInternalServerError, "failed to send message")
	}
}

// CacheSnapshot returns the session's current view of a conversation
// without touching the datastore.
func (h *Handler) CacheSnapshot(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.view(r, h.session(r).View(agentParam(r))))
}

// LeaveChat is called when the chat view closes.
func (h *Handler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	h.session(r).Leave(agentParam(r))
	w.WriteHeader(http.StatusNoContent)
}

// TTS converts text to speech with the agent's voice.
func (h *Handler) TTS(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, contentType, err := h.Agents.TTS(r.Context(), agentParam(r), req.Text)
	if err != nil {
		h.agentAPIError(w, err)
		return
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// Whisper transcribes an uploaded recording (multipart field "file").
func (h *Handler) Whisper(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
		h.Error(w, http.StatusBadRequest, "expected a multipart upload")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	text, err := h.Agents.Whisper(r.Context(), agentParam(r), audio)
	if err != nil {
		h.agentAPIError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"text": text})
}

// parseSendInput reads a chat submission from JSON or a multipart form.
func parseSendInput(r *http.Request) (chat.SendInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req sendRequest
		if err := decodeJSON(r, &req); err != nil {
			return chat.SendInput{}, errors.New("invalid JSON body")
		}
		return chat.SendInput{Text: req.Text}, nil
	}

	if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
		return chat.SendInput{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	in := chat.SendInput{Text: r.FormValue("text")}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return chat.SendInput{}, fmt.Errorf("invalid file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize))
	if err != nil {
		return chat.SendInput{}, fmt.Errorf("read file: %w", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	in.Attachment = &chat.Attachment{Name: header.Filename, ContentType: contentType, Data: data}
	return in, nil
}
