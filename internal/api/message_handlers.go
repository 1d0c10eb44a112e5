package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andresmejia3/facegate/internal/auth"
	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/validation"
	"github.com/andresmejia3/facegate/internal/worker"
)

type sendMessageRequest struct {
	ReceiverID          flexInt  `json:"receiverId" validate:"required"`
	Subject             string   `json:"subject" validate:"required,max=255"`
	Message             string   `json:"message" validate:"required"`
	IsDigitallyVerified flexBool `json:"isDigitallyVerified"`
	Image               string   `json:"image"`
}

func (req *sendMessageRequest) fromForm(v url.Values) {
	req.ReceiverID = formInt(v, "receiverId")
	req.Subject = v.Get("subject")
	req.Message = v.Get("message")
	req.IsDigitallyVerified = formBool(v, "isDigitallyVerified")
}

func (req *sendMessageRequest) imageData() string { return req.Image }

// SendMessage stores a message from the authenticated user.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "Access token required", nil)
		return
	}

	var req sendMessageRequest
	imagePath, cleanup, err := h.readRequest(w, r, &req)
	defer cleanup()
	if err != nil {
		badBody(w, r, err)
		return
	}

	req.Subject = strings.TrimSpace(req.Subject)
	if validation.MissingRequired(&req) {
		respondError(w, r, http.StatusBadRequest, "Missing required fields", nil)
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx := r.Context()
	receiver, err := h.store.GetUserByID(ctx, int(req.ReceiverID))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "Receiver not found", nil)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	if receiver.ID == claims.UserID {
		respondError(w, r, http.StatusBadRequest, "Cannot send message to yourself", nil)
		return
	}

	sender, err := h.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusUnauthorized, "User no longer exists", nil)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}

	msg, err := h.store.CreateMessage(ctx, types.NewMessage{
		SenderID:            sender.ID,
		ReceiverID:          receiver.ID,
		Subject:             req.Subject,
		Body:                req.Message,
		IsFaceVerified:      h.verifySender(ctx, sender, imagePath),
		IsDigitallyVerified: digitallyVerified(sender, bool(req.IsDigitallyVerified)),
	})
	if err != nil {
		internalError(w, r, err)
		return
	}

	logging.Ctx(ctx).Info().
		Int64("message_id", msg.ID).
		Int("from", sender.ID).
		Int("to", receiver.ID).
		Bool("face_verified", msg.IsFaceVerified).
		Msg("Message sent")

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "Message sent successfully",
		"data":    newMessageResponse(msg, 0),
	})
}

// verifySender reports whether the attached image matches the sender's enrolled face.
// Any failure yields false; the send itself is never aborted here.
func (h *Handler) verifySender(ctx context.Context, sender types.User, imagePath string) bool {
	if imagePath == "" {
		return false
	}
	log := logging.Ctx(ctx).With().Int("user_id", sender.ID).Logger()
	if !sender.HasFace {
		log.Info().Msg("Face image ignored: sender has no enrolled face")
		return false
	}

	target, err := h.store.GetFaceEmbedding(ctx, sender.ID)
	if err != nil || len(target) == 0 {
		log.Warn().Err(err).Msg("Could not load sender face embedding")
		return false
	}

	match, err := h.face.Verify(ctx, imagePath, target)
	if err != nil {
		log.Warn().Err(err).Str("worker_logs", worker.Logs(err)).Msg("Face verification unavailable, sending unverified")
		return false
	}
	if !match {
		log.Warn().Msg("Face verification failed, sending unverified")
	}
	return match
}

// digitallyVerified marks messages from organizations. Individuals cannot claim it.
func digitallyVerified(sender types.User, asserted bool) bool {
	if sender.Type != types.Organization {
		return false
	}
	return sender.Signature != "" || asserted
}

// Inbox lists messages received by the caller.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	h.listMessages(w, r, func(ctx context.Context, userID int) ([]types.Message, error) {
		return h.store.ListInbox(ctx, userID)
	})
}

// Sent lists messages sent by the caller.
func (h *Handler) Sent(w http.ResponseWriter, r *http.Request) {
	h.listMessages(w, r, func(ctx context.Context, userID int) ([]types.Message, error) {
		return h.store.ListSent(ctx, userID)
	})
}

// AllMessages lists every message in the system.
func (h *Handler) AllMessages(w http.ResponseWriter, r *http.Request) {
	h.listMessages(w, r, func(ctx context.Context, _ int) ([]types.Message, error) {
		return h.store.ListAllMessages(ctx)
	})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int) ([]types.Message, error)) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "Access token required", nil)
		return
	}
	msgs, err := fetch(r.Context(), claims.UserID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newMessageList(msgs))
}

// Index describes the available endpoints.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Secure Messaging API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":   "/api/health",
			"auth":     "/api/auth",
			"messages": "/api/messages",
		},
	})
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code, db := "OK", http.StatusOK, "connected"
	if err := h.store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Database health check failed")
		status, code, db = "DEGRADED", http.StatusServiceUnavailable, "unreachable"
	}

	respondJSON(w, code, map[string]any{
		"status":    status,
		"message":   "Secure Messaging API is running",
		"database":  db,
		"timestamp": formatTime(time.Now()),
	})
}
