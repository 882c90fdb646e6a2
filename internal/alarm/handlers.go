package alarm

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// maxUploadSize is large enough for full-resolution phone photos
const maxUploadSize = int64(50 << 20)

// analyzeResponse is returned after an alarm was scheduled
type analyzeResponse struct {
	Message string `json:"message"`
	Alarm   *Alarm `json:"alarm"`
}

// errorResponse is returned for every failure of the analyze pipeline
type errorResponse struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind,omitempty"`
}

// corsError writes a plain text error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeAnalysisError converts a pipeline failure into a single user-visible message
func writeAnalysisError(w http.ResponseWriter, err error) {
	var analysisErr *AnalysisError
	if !errors.As(err, &analysisErr) {
		slog.Error("Unexpected analysis error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong"})
		return
	}
	writeJSON(w, analysisErr.StatusCode(), errorResponse{
		Error: analysisErr.Message(),
		Kind:  analysisErr.Kind,
	})
}

// detectContentType falls back to the file extension when the part has no type
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleIndex serves the single-screen interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleUploadImage analyzes an uploaded photo and schedules an alarm
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorMsg, Kind: KindImageLoad})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No photo was selected. Please choose a photo to analyze."
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorMsg, Kind: KindImageLoad})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Failed to process image", Kind: KindImageLoad})
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	alarm, err := s.service.Analyze(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error analyzing image", "filename", header.Filename, "error", err)
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, analyzeResponse{Message: alarm.Message(), Alarm: alarm})
}

// handleAnalyzeText schedules an alarm from text the client already recognized
func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	alarm, err := s.service.AnalyzeText(r.Context(), req.Text)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, analyzeResponse{Message: alarm.Message(), Alarm: alarm})
}

// handleListAlarms returns all alarms
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	alarms, err := s.service.ListAlarms()
	if err != nil {
		slog.Error("Error listing alarms", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alarms)
}

// handleGetAlarm returns a single alarm
func (s *Server) handleGetAlarm(w http.ResponseWriter, r *http.Request) {
	alarm, err := s.service.GetAlarm(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrAlarmNotFound) {
			corsError(w, "Alarm not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting alarm", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alarm)
}

// handleGetAlarmFile returns the image an alarm was read from
func (s *Server) handleGetAlarmFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetAlarmFile(r.PathValue("id"))
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteAlarm cancels and deletes an alarm
func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAlarm(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrAlarmNotFound) {
			corsError(w, "Alarm not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting alarm", "error", err)
		corsError(w, "Error deleting alarm", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
