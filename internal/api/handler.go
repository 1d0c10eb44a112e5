// Package api implements the messaging REST API.
//
// Face checks go through a FaceAuthenticator (the worker client in production). The policy
// for a failed or unavailable check depends on the operation:
//
//   - register: a generate failure aborts the registration
//   - login: a verify failure or an unavailable worker denies the login
//   - send message: the message is still sent, flagged as not face-verified
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/andresmejia3/facegate/internal/auth"
	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// Store is the persistence the handlers need.
type Store interface {
	CreateUser(ctx context.Context, nu types.NewUser) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	GetUserByID(ctx context.Context, id int) (types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	GetFaceEmbedding(ctx context.Context, userID int) (types.Embedding, error)
	CreateMessage(ctx context.Context, nm types.NewMessage) (types.Message, error)
	ListInbox(ctx context.Context, userID int) ([]types.Message, error)
	ListSent(ctx context.Context, userID int) ([]types.Message, error)
	ListAllMessages(ctx context.Context) ([]types.Message, error)
	Ping(ctx context.Context) error
}

// FaceAuthenticator turns face images into embeddings and compares them.
type FaceAuthenticator interface {
	Generate(ctx context.Context, imagePath string) (types.Embedding, error)
	Verify(ctx context.Context, imagePath string, target types.Embedding) (bool, error)
}

// Options tune request handling.
type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	BcryptCost     int
	AllowedOrigins []string
	LoginRateLimit int // per IP per minute, 0 disables
}

// Handler serves the API.
type Handler struct {
	store  Store
	face   FaceAuthenticator
	tokens *auth.JWTManager
	opts   Options
}

// NewHandler wires the handler dependencies.
func NewHandler(store Store, face FaceAuthenticator, tokens *auth.JWTManager, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 10
	}
	return &Handler{store: store, face: face, tokens: tokens, opts: opts}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.Index)
	r.Get("/api/health", h.Health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.opts.LoginRateLimit > 0 {
				r.Use(httprate.LimitByIP(h.opts.LoginRateLimit, time.Minute))
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.Middleware)
			r.Get("/users", h.ListUsers)
			r.Get("/users/{id}", h.GetUser)
		})
	})

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(h.tokens.Middleware)
		r.Post("/send", h.SendMessage)
		r.Get("/inbox", h.Inbox)
		r.Get("/sent", h.Sent)
		r.Get("/all", h.AllMessages)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "Route not found", nil)
	})

	return r
}

// requestLogger logs one line per request and puts a request-scoped logger in the context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.Logger().With().Str("request_id", chimiddleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logging.WithContext(r.Context(), l))

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
