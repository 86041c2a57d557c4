package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/receipt-pipeline/internal/filestore"
	"github.com/sells-group/receipt-pipeline/internal/model"
	"github.com/sells-group/receipt-pipeline/internal/runner"
	"github.com/sells-group/receipt-pipeline/internal/store"
)

const maxUploadBytes = 32 << 20 // 32 MiB

// apiServer exposes the receipt API. Pipeline runs are dispatched on
// baseCtx, not the request context, so an upload response returning does
// not cancel the run it started.
type apiServer struct {
	store   store.Store
	files   filestore.FileStore
	runner  *runner.Runner
	baseCtx context.Context
}

func newRouter(env *pipelineEnv, baseCtx context.Context, allowedOrigins []string) http.Handler {
	s := &apiServer{
		store:   env.Store,
		files:   env.Files,
		runner:  env.Runner,
		baseCtx: baseCtx,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/webhook/upload-completed", s.handleUploadCompleted)

	r.Route("/receipts", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/download", s.handleDownload)
		r.Delete("/{id}", s.handleDelete)
	})

	return r
}

// requireUser rejects requests without a caller identity. Authentication
// itself happens upstream; this service trusts the X-User-ID header set by
// the gateway.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("X-User-ID")) == "" {
			writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != "application/pdf" {
		writeError(w, http.StatusUnsupportedMediaType, "only PDF files are allowed")
		return
	}

	fileID := uuid.New().String()
	if err := s.files.Upload(r.Context(), fileID, contentType, file); err != nil {
		zap.L().Error("file upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "file upload failed")
		return
	}

	receipt, err := s.store.CreateReceipt(r.Context(), model.NewReceipt{
		UserID:   userID(r),
		FileID:   fileID,
		FileName: header.Filename,
		MimeType: contentType,
		Size:     header.Size,
	})
	if err != nil {
		zap.L().Error("create receipt failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create receipt failed")
		return
	}

	fileURL, err := s.files.GetDownloadURL(r.Context(), fileID)
	if err != nil {
		zap.L().Error("presign for pipeline failed",
			zap.String("receipt_id", receipt.ID),
			zap.Error(err),
		)
		// Record is created; the run can be started later via the process
		// command or the upload-completed webhook.
		writeJSON(w, http.StatusCreated, receipt)
		return
	}

	s.dispatch(model.UploadCompleted{ReceiptID: receipt.ID, FileURL: fileURL})
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *apiServer) handleUploadCompleted(w http.ResponseWriter, r *http.Request) {
	var event model.UploadCompleted
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.ReceiptID == "" || event.FileURL == "" {
		writeError(w, http.StatusBadRequest, "receipt_id and file_url are required")
		return
	}

	s.dispatch(event)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"receipt_id": event.ReceiptID,
	})
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.store.ListReceipts(r.Context(), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if receipts == nil {
		receipts = []model.Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.store.GetReceipt(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.store.GetReceipt(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	url, err := s.files.GetDownloadURL(r.Context(), receipt.FileID)
	if err != nil {
		if eris.Is(err, filestore.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		zap.L().Error("presign failed", zap.String("receipt_id", receipt.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not generate download URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := deleteReceipt(r.Context(), s.store, s.files, chi.URLParam(r, "id"), userID(r))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) || eris.Is(err, store.ErrUnauthorized) {
			writeStoreError(w, err)
			return
		}
		zap.L().Error("delete receipt failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed, receipt left in place")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dispatch starts a pipeline run in the background.
func (s *apiServer) dispatch(event model.UploadCompleted) {
	go func() {
		result, err := s.runner.Process(s.baseCtx, event)
		if err != nil {
			zap.L().Error("pipeline run failed",
				zap.String("receipt_id", event.ReceiptID),
				zap.String("status", string(result.Status)),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("pipeline run finished",
			zap.String("receipt_id", event.ReceiptID),
			zap.String("status", string(result.Status)),
		)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "receipt not found")
	case eris.Is(err, store.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "receipt does not belong to user")
	case eris.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid status transition")
	default:
		zap.L().Error("store operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
