package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/andresmejia3/facegate/internal/auth"
	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/validation"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

type registerRequest struct {
	Username  string `json:"username" validate:"required,max=64"`
	Password  string `json:"password" validate:"required,max=72"`
	Name      string `json:"name" validate:"required,max=128"`
	Type      string `json:"type" validate:"required"`
	Signature string `json:"signature" validate:"max=4096"`
	Image     string `json:"image"`
}

func (req *registerRequest) fromForm(v url.Values) {
	req.Username = v.Get("username")
	req.Password = v.Get("password")
	req.Name = v.Get("name")
	req.Type = v.Get("type")
	req.Signature = v.Get("signature")
}

func (req *registerRequest) imageData() string { return req.Image }

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Image    string `json:"image"`
}

func (req *loginRequest) fromForm(v url.Values) {
	req.Username = v.Get("username")
	req.Password = v.Get("password")
}

func (req *loginRequest) imageData() string { return req.Image }

// Register creates an account, enrolling a face when an image is attached.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	imagePath, cleanup, err := h.readRequest(w, r, &req)
	defer cleanup()
	if err != nil {
		badBody(w, r, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	req.Signature = strings.TrimSpace(req.Signature)

	if validation.MissingRequired(&req) {
		respondError(w, r, http.StatusBadRequest, "Missing required fields", nil)
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	userType := types.UserType(req.Type)
	if !userType.Valid() {
		respondError(w, r, http.StatusBadRequest, "Invalid user type", nil)
		return
	}
	if userType == types.Organization && req.Signature == "" {
		respondError(w, r, http.StatusBadRequest, "Organizations must provide a digital signature", nil)
		return
	}
	// Only organizations sign messages.
	if userType != types.Organization {
		req.Signature = ""
	}

	ctx := r.Context()
	if _, err := h.store.GetUserByUsername(ctx, req.Username); err == nil {
		respondError(w, r, http.StatusBadRequest, "Username already exists", nil)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		internalError(w, r, err)
		return
	}

	var embedding types.Embedding
	if imagePath != "" {
		embedding, err = h.face.Generate(ctx, imagePath)
		if errors.Is(err, context.Canceled) {
			logging.Ctx(ctx).Debug().Str("username", req.Username).Msg("Client went away during face enrollment")
			return
		}
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("username", req.Username).Str("worker_logs", worker.Logs(err)).Msg("Face enrollment failed")
			if errors.Is(err, worker.ErrWorkerTimedOut) {
				respondError(w, r, http.StatusServiceUnavailable, "Face enrollment timed out", nil)
				return
			}
			respondError(w, r, http.StatusUnprocessableEntity, "Face enrollment failed", nil)
			return
		}
	}

	hash, err := auth.HashPassword(req.Password, h.opts.BcryptCost)
	if err != nil {
		internalError(w, r, err)
		return
	}

	user, err := h.store.CreateUser(ctx, types.NewUser{
		Username:     req.Username,
		PasswordHash: hash,
		Name:         req.Name,
		Type:         userType,
		Signature:    req.Signature,
		Embedding:    embedding,
	})
	if errors.Is(err, store.ErrUsernameTaken) {
		respondError(w, r, http.StatusBadRequest, "Username already exists", nil)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}

	token, err := h.tokens.GenerateToken(user)
	if err != nil {
		internalError(w, r, err)
		return
	}

	logging.Ctx(ctx).Info().Int("user_id", user.ID).Str("type", string(user.Type)).Bool("face", user.HasFace).Msg("User registered")
	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    newUserResponse(user),
		"token":   token,
	})
}

// Login checks credentials and, for users with an enrolled face, the attached image.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	imagePath, cleanup, err := h.readRequest(w, r, &req)
	defer cleanup()
	if err != nil {
		badBody(w, r, err)
		return
	}

	if validation.MissingRequired(&req) {
		respondError(w, r, http.StatusBadRequest, "Username and password are required", nil)
		return
	}

	ctx := r.Context()
	user, err := h.store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		respondError(w, r, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if user.HasFace {
		if imagePath == "" {
			respondJSON(w, http.StatusOK, map[string]any{
				"requireFaceAuth": true,
				"message":         "Face verification required",
			})
			return
		}

		target, err := h.store.GetFaceEmbedding(ctx, user.ID)
		if err != nil {
			internalError(w, r, err)
			return
		}

		match, err := h.face.Verify(ctx, imagePath, target)
		if errors.Is(err, context.Canceled) {
			logging.Ctx(ctx).Debug().Int("user_id", user.ID).Msg("Client went away during face verification")
			return
		}
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int("user_id", user.ID).Str("worker_logs", worker.Logs(err)).Msg("Face verification unavailable")
			respondError(w, r, http.StatusServiceUnavailable, "Face verification unavailable", nil)
			return
		}
		if !match {
			logging.Ctx(ctx).Warn().Int("user_id", user.ID).Msg("Face verification failed")
			respondError(w, r, http.StatusUnauthorized, "Face verification failed", nil)
			return
		}
	}

	token, err := h.tokens.GenerateToken(user)
	if err != nil {
		internalError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    newUserResponse(user),
		"token":   token,
	})
}

// ListUsers returns every account for the recipient picker.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lo.Map(users, func(u types.User, _ int) userResponse {
		resp := newUserResponse(u)
		resp.CreatedAt = ""
		return resp
	}))
}

// GetUser returns one account by id.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, "Invalid user id", nil)
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "User not found", nil)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newUserResponse(user))
}
