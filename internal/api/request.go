package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/goccy/go-json"
)

// imageField is the multipart field (or JSON property) carrying a face image.
const imageField = "image"

var (
	errBadRequestBody = errors.New("malformed request body")
	errBadImage       = errors.New("malformed image")
)

// formRequest is implemented by request bodies that can also be submitted as form fields.
type formRequest interface {
	fromForm(v url.Values)
	imageData() string
}

// flexInt accepts a JSON number or a numeric string ("12"), since browser FormData
// sends everything as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts a JSON boolean or the strings "true"/"false".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("not a boolean: %s", b)
	}
	*f = flexBool(v)
	return nil
}

func formInt(v url.Values, key string) flexInt {
	n, _ := strconv.Atoi(strings.TrimSpace(v.Get(key)))
	return flexInt(n)
}

func formBool(v url.Values, key string) flexBool {
	b, _ := strconv.ParseBool(strings.TrimSpace(v.Get(key)))
	return flexBool(b)
}

// readRequest decodes a JSON, multipart or urlencoded body into dst. If a face image is
// present it is written to the upload directory and its path returned. The caller must
// always call cleanup.
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request, dst formRequest) (imagePath string, cleanup func(), err error) {
	cleanup = func() {}
	if r.ContentLength > h.opts.MaxUploadBytes {
		return "", cleanup, &http.MaxBytesError{Limit: h.opts.MaxUploadBytes}
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
			return "", cleanup, fmt.Errorf("%w: %w", errBadRequestBody, err)
		}
		dst.fromForm(url.Values(r.MultipartForm.Value))

		file, header, err := r.FormFile(imageField)
		if errors.Is(err, http.ErrMissingFile) {
			return "", cleanup, nil
		}
		if err != nil {
			return "", cleanup, fmt.Errorf("%w: %w", errBadImage, err)
		}
		defer file.Close()
		return h.saveImage(r, file, filepath.Ext(header.Filename))

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", cleanup, fmt.Errorf("%w: %w", errBadRequestBody, err)
		}
		dst.fromForm(r.PostForm)

	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", cleanup, fmt.Errorf("%w: %w", errBadRequestBody, err)
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, dst); err != nil {
				return "", cleanup, fmt.Errorf("%w: %w", errBadRequestBody, err)
			}
		}
	}

	if data := dst.imageData(); data != "" {
		raw, ext, err := decodeDataURL(data)
		if err != nil {
			return "", cleanup, err
		}
		return h.saveImage(r, bytes.NewReader(raw), ext)
	}
	return "", cleanup, nil
}

func (h *Handler) saveImage(r *http.Request, src io.Reader, ext string) (string, func(), error) {
	path, err := utils.SaveTempImage(h.opts.UploadDir, src, ext)
	if err != nil {
		return "", func() {}, err
	}
	return path, func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Ctx(r.Context()).Warn().Err(err).Str("path", path).Msg("Failed to remove uploaded image")
		}
	}, nil
}

// decodeDataURL accepts "data:image/png;base64,..." or bare base64.
func decodeDataURL(s string) ([]byte, string, error) {
	ext := ".jpg"
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", errBadImage
		}
		switch strings.TrimSuffix(meta, ";base64") {
		case "image/png":
			ext = ".png"
		case "image/webp":
			ext = ".webp"
		}
		s = payload
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadImage, err)
	}
	if len(raw) == 0 {
		return nil, "", errBadImage
	}
	return raw, ext, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError writes {"error": msg}. A non-nil cause is logged, never sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, msg string, cause error) {
	if cause != nil {
		ev := logging.Ctx(r.Context()).Warn()
		if status >= http.StatusInternalServerError {
			ev = logging.Ctx(r.Context()).Error()
		}
		ev.Err(cause).Int("status", status).Msg(msg)
	}
	respondJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, http.StatusInternalServerError, "Internal server error", err)
}

// badBody maps readRequest failures to a response.
func badBody(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		respondError(w, r, http.StatusRequestEntityTooLarge, "Request too large", err)
	case errors.Is(err, errBadImage):
		respondError(w, r, http.StatusBadRequest, "Invalid image", err)
	case errors.Is(err, errBadRequestBody):
		respondError(w, r, http.StatusBadRequest, "Invalid request body", err)
	default:
		internalError(w, r, err)
	}
}
