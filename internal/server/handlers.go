package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manash/cardgen/internal/generator"
	"github.com/manash/cardgen/pkg/models"
)

const multipartOverhead = 1 << 20

type errorResponse struct {
	Error      string `json:"error"`
	Category   string `json:"category,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type uploadResponse struct {
	URL       string    `json:"url"`
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type generateRequest struct {
	UserImageURL string `json:"user_image_url"`
	Style        string `json:"style"`
	Prompt       string `json:"prompt"`
}

type generateResponse struct {
	PredictionID string           `json:"prediction_id"`
	Status       models.JobStatus `json:"status"`
}

type statusResponse struct {
	Status   models.JobStatus `json:"status"`
	ImageURL string           `json:"image_url,omitempty"`
	Error    string           `json:"error,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Category: string(generator.CategoryInvalidInput)})
}

// writeError renders any pipeline error through its category.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ge := generator.Classify(err)
	code := statusFor(ge.Category)

	resp := errorResponse{Error: ge.Message, Category: ge.Category.String()}
	if ge.RetryAfter > 0 {
		secs := int(ge.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		resp.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if s.cfg.ExposeErrorDetail && ge.Err != nil {
		resp.Detail = ge.Err.Error()
	}

	if code >= 500 {
		s.log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Str("category", ge.Category.String()).Msg("request failed")
	}
	writeJSON(w, code, resp)
}

func statusFor(c generator.Category) int {
	switch c {
	case generator.CategoryInvalidInput, generator.CategoryUnreachable:
		return http.StatusBadRequest
	case generator.CategoryInsufficientCredit:
		return http.StatusPaymentRequired
	case generator.CategoryRateLimited:
		return http.StatusTooManyRequests
	case generator.CategoryStorage, generator.CategoryNetwork,
		generator.CategorySubmission, generator.CategoryMalformedResponse:
		return http.StatusBadGateway
	case generator.CategoryTimeout:
		return http.StatusGatewayTimeout
	case generator.CategoryCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listStyles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"styles": s.styles.List()})
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	data, header, err := s.readImagePart(w, r, "image", "file")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	obj, err := s.store.Store(r.Context(), data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{URL: obj.URL, ID: obj.Key, ExpiresAt: obj.ExpiresAt})
}

// createCard runs the full pipeline synchronously; the response arrives
// once the provider finishes or the poll budget runs out.
func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	data, header, err := s.readImagePart(w, r, "photo", "image")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	style, ok := s.lookupStyle(w, r.FormValue("style"))
	if !ok {
		return
	}

	photo := &models.Photo{Data: data, Filename: header.Filename, ContentType: header.Header.Get("Content-Type")}
	url, err := s.generator.GenerateCard(r.Context(), photo, style)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_url": url, "style": style.ID})
}

func (s *Server) startGeneration(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON in request body")
		return
	}
	req.UserImageURL = strings.TrimSpace(req.UserImageURL)
	if req.UserImageURL == "" {
		badRequest(w, "user_image_url is required")
		return
	}
	if err := s.policy.Validate(r.Context(), req.UserImageURL); err != nil {
		badRequest(w, "user_image_url is not allowed: "+err.Error())
		return
	}

	style, ok := s.lookupStyle(w, req.Style)
	if !ok {
		return
	}

	handle, err := s.generator.Start(r.Context(), req.UserImageURL, style, req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{PredictionID: handle.ID, Status: handle.Status})
}

func (s *Server) predictionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("prediction_id")
	}
	if strings.TrimSpace(id) == "" {
		badRequest(w, "prediction_id is required")
		return
	}
	if err := models.ValidateJobID(id); err != nil {
		badRequest(w, "prediction_id is malformed")
		return
	}

	result, err := s.generator.Check(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch result.Status {
	case models.StatusSucceeded:
		writeJSON(w, http.StatusOK, statusResponse{Status: result.Status, ImageURL: result.ImageURL})
	case models.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: result.Status, Error: result.ErrorMessage})
	case models.StatusCanceled:
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: result.Status, Error: "Generation was canceled"})
	default:
		writeJSON(w, http.StatusOK, statusResponse{Status: result.Status, Message: "Generation in progress"})
	}
}

func (s *Server) serveTempImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	rc, modTime, err := s.store.Open(key)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
		return
	}
	defer rc.Close()

	w.Header().Set("Cache-Control", "public, max-age=600")
	http.ServeContent(w, r, path.Base(key), modTime, rc)
}

func (s *Server) lookupStyle(w http.ResponseWriter, id string) (models.StylePreset, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = defaultStyle
	}
	style, err := s.styles.Get(id)
	if err != nil {
		badRequest(w, fmt.Sprintf("unknown style %q", id))
		return models.StylePreset{}, false
	}
	return style, true
}

// readImagePart returns the first present file among fields, enforcing the
// upload size limit.
func (s *Server) readImagePart(w http.ResponseWriter, r *http.Request, fields ...string) ([]byte, *multipart.FileHeader, error) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("file too large (max %dMB)", limit>>20)
		}
		return nil, nil, fmt.Errorf("invalid multipart form: %v", err)
	}

	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer file.Close()

		if header.Size > limit {
			return nil, nil, fmt.Errorf("file too large (max %dMB)", limit>>20)
		}
		data, err := io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			return nil, nil, fmt.Errorf("read upload: %v", err)
		}
		if len(data) == 0 {
			return nil, nil, errors.New("file is empty")
		}
		return data, header, nil
	}
	return nil, nil, fmt.Errorf("no image provided (field %q)", fields[0])
}
