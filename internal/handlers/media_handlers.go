package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"gator-chat/internal/media"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// UploadResponse returns the stored blob and the attachment to put in a
// message body.
type UploadResponse struct {
	Blob       *media.Blob        `json:"blob"`
	Attachment *models.Attachment `json:"attachment"`
}

// HandleUploadMedia stores the multipart "file" field.
func (s *Server) HandleUploadMedia() http.HandlerFunc {
	return s.handle(http.StatusCreated, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		r.Body = http.MaxBytesReader(nil, r.Body, s.Config.MediaMaxBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, utils.NewInvalidInputError("file exceeds the upload limit")
			}
			return nil, utils.NewInvalidInputError("multipart field \"file\" is required")
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		blob, err := s.Media.Upload(r.Context(), caller, header.Filename, contentType, file)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrUpstream, "media upload failed", err)
		}
		return UploadResponse{Blob: blob, Attachment: blob.Attachment()}, nil
	})
}

func (s *Server) HandleDownloadMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blob, body, err := s.Media.Open(r.Context(), mux.Vars(r)["blobId"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		defer body.Close()

		if blob.ContentType != "" {
			w.Header().Set("Content-Type", blob.ContentType)
		}
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
		w.Header().Set("Cache-Control", "private, max-age=86400")
		if _, err := io.Copy(w, body); err != nil {
			s.log.Debugw("media download interrupted", "blob", blob.ID, "error", err)
		}
	}
}
