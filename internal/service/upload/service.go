package upload

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/evently/collab/internal/logger"
	"github.com/evently/collab/internal/middleware"
	"github.com/evently/collab/internal/models"
)

// maxUploadSize caps attachment uploads at 10 MiB.
const maxUploadSize = 10 << 20

// Service stores attachment uploads and returns the reference the chat embeds
// in image/file messages. Rendering and download are someone else's problem.
type Service struct {
	Dir       string
	AssetBase string
	Log       *logger.Logger
}

// NewService initializes the upload service. The directory is created if
// missing.
func NewService(dir, assetBase string) *Service {
	return &Service{
		Dir:       dir,
		AssetBase: strings.TrimRight(assetBase, "/"),
		Log:       logger.New("upload-service"),
	}
}

// Upload accepts a single multipart file and returns its reference URL, mime
// classification, and original filename.
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserID(r.Context()); !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "A single 'file' part is required")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		s.Log.Error("Failed to create upload dir", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	// Prefix with a uuid so filenames never collide and the original name
	// survives for display.
	name := uuid.NewString() + "_" + filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		s.Log.Error("Failed to create file", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	defer dst.Close()

	// Sniff the mime type from the first bytes; fall back to the part header.
	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	mimeType := http.DetectContentType(head[:n])
	if mimeType == "application/octet-stream" {
		if ct := header.Header.Get("Content-Type"); ct != "" {
			mimeType = ct
		}
	}

	if _, err := dst.Write(head[:n]); err != nil {
		s.Log.Error("Failed to write file", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		s.Log.Error("Failed to write file", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	result := models.UploadResult{
		URL:      s.AssetBase + "/" + name,
		MimeType: mimeType,
		FileName: header.Filename,
	}

	s.Log.Info("File uploaded", "name", name, "mime", mimeType)
	respondWithJSON(w, http.StatusOK, result)
}

// Helper functions for HTTP responses
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling JSON: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
