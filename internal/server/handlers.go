package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/facerec/internal/annotate"
	"github.com/andresmejia3/facerec/internal/blob"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/andresmejia3/facerec/internal/worker"
	"github.com/gorilla/mux"
)

type HealthResponse struct {
	HealthCheck  string `json:"health_check"`
	ModelVersion string `json:"model_version"`
}

type FaceResponse struct {
	Box      types.FaceBox `json:"box"`
	Label    types.Label   `json:"label"`
	Distance float64       `json:"distance"`
}

type RecognizeResponse struct {
	RequestID string         `json:"request_id"`
	FaceCount int            `json:"face_count"`
	Faces     []FaceResponse `json:"faces"`
}

type ReloadResponse struct {
	Entries  int `json:"entries"`
	Previous int `json:"previous"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{HealthCheck: "OK", ModelVersion: ModelVersion})
}

// handleFaceRecognition pulls the query frame from blob storage and returns it annotated.
func (s *Server) handleFaceRecognition(w http.ResponseWriter, r *http.Request) {
	if s.opts.Fetcher == nil {
		sendErrorResponse(w, "fetch_unavailable", "no frame storage configured", http.StatusServiceUnavailable)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		key = s.opts.DefaultKey
	}

	data, err := s.opts.Fetcher.Fetch(r.Context(), key)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		sendErrorResponse(w, "not_found", err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, blob.ErrInvalidKey):
		sendErrorResponse(w, "invalid_key", err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("frame fetch failed", slog.String("key", key), slog.Any("error", err))
		sendErrorResponse(w, "fetch_error", "failed to fetch frame", http.StatusInternalServerError)
		return
	}

	img, _, err := utils.Decode(data)
	if err != nil {
		sendErrorResponse(w, "invalid_image", fmt.Sprintf("stored frame %q is not a decodable image", key), http.StatusInternalServerError)
		return
	}

	result, ok := s.recognize(w, r, img)
	if !ok {
		return
	}

	png, err := utils.EncodePNG(annotate.Draw(img, result))
	if err != nil {
		sendErrorResponse(w, "encode_error", err.Error(), http.StatusInternalServerError)
		return
	}

	labels := make([]string, len(result))
	for i, l := range result.Labels() {
		labels[i] = string(l)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Face-Names", strings.Join(labels, ","))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleRecognize accepts an image as a raw body, a multipart "file" or JSON base64.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)

	var imgBytes []byte
	var err error

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		imgBytes, err = handleJSONRequest(r)
	case "multipart/form-data":
		imgBytes, err = handleMultipartRequest(r, s.opts.MaxUpload)
	default:
		imgBytes, err = handleRawRequest(r)
	}

	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if len(imgBytes) == 0 {
		sendErrorResponse(w, "invalid_request", "empty image", http.StatusBadRequest)
		return
	}

	img, _, err := utils.Decode(imgBytes)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	result, ok := s.recognize(w, r, img)
	if !ok {
		return
	}

	resp := RecognizeResponse{
		RequestID: RequestID(r.Context()),
		FaceCount: len(result),
		Faces:     make([]FaceResponse, len(result)),
	}
	for i, d := range result {
		resp.Faces[i] = FaceResponse{Box: d.Box, Label: d.Label, Distance: d.Distance}
	}
	writeJSON(w, http.StatusOK, resp)
}

// recognize runs the pipeline and writes the error response itself on failure.
func (s *Server) recognize(w http.ResponseWriter, r *http.Request, img image.Image) (types.DetectionResult, bool) {
	result, err := s.opts.Pipeline.Process(r.Context(), img)
	if err != nil {
		s.failures.Add(1)
		code, status := statusFor(err)
		s.logger.Error("recognition failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.Any("error", err),
		)
		sendErrorResponse(w, code, err.Error(), status)
		return nil, false
	}
	s.recognitions.Add(1)
	return result, true
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		sendErrorResponse(w, "reload_unavailable", "gallery reload is not configured", http.StatusServiceUnavailable)
		return
	}

	// A rebuild encodes every sample and may outlast the server's WriteTimeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("could not lift write deadline for reload", slog.Any("error", err))
	}

	// Concurrent reloads are serialised; readers keep the old gallery until the swap.
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	g, err := s.opts.Reload(r.Context())
	if err != nil {
		s.logger.Error("gallery reload failed", slog.Any("error", err))
		sendErrorResponse(w, "reload_failed", err.Error(), http.StatusInternalServerError)
		return
	}

	old := s.opts.Gallery.Swap(g)
	s.reloads.Add(1)
	s.logger.Info("gallery reloaded", slog.Int("entries", g.Len()), slog.Int("previous", old.Len()))
	writeJSON(w, http.StatusOK, ReloadResponse{Entries: g.Len(), Previous: old.Len()})
}

func (s *Server) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	g := s.opts.Gallery.Load()
	response := map[string]interface{}{
		"gallery_entries": g.Len(),
		"gallery_dim":     g.Dim(),
		"recognitions":    s.recognitions.Load(),
		"failures":        s.failures.Load(),
		"reloads":         s.reloads.Load(),
	}
	if s.opts.Stats != nil {
		response["pool"] = s.opts.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request, maxMemory int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

// statusFor maps pipeline failures to HTTP statuses.
func statusFor(err error) (string, int) {
	switch {
	case errors.Is(err, worker.ErrNoWorker), errors.Is(err, worker.ErrPoolClosed):
		return "worker_unavailable", http.StatusServiceUnavailable
	default:
		return "processing_error", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
