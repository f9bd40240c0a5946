// Package media stores attachment blobs and hands back the stable URL that
// messages reference.
package media

import (
	"context"
	"io"
	"strings"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
)

// URLPrefix is the route blobs are served from.
const URLPrefix = "/media/"

// Blob describes a stored file.
type Blob struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	OwnerID     uuid.UUID `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (b *Blob) URL() string {
	return URLPrefix + b.ID
}

// Attachment builds the message attachment referencing the blob.
func (b *Blob) Attachment() *models.Attachment {
	return &models.Attachment{
		Kind: KindFor(b.ContentType),
		URL:  b.URL(),
		Name: b.Name,
		Size: b.Size,
	}
}

// Uploader is the blob store consumed by the upload and download endpoints.
type Uploader interface {
	Upload(ctx context.Context, owner uuid.UUID, name, contentType string, r io.Reader) (*Blob, error)
	Open(ctx context.Context, id string) (*Blob, io.ReadCloser, error)
}

// KindFor maps a MIME type to an attachment kind.
func KindFor(contentType string) models.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(contentType, "audio/"):
		return models.AttachmentAudio
	default:
		return models.AttachmentFile
	}
}

func NewBlobNotFoundError(id string) *utils.AppError {
	return utils.NewAppError(utils.ErrNotFound, "Media not found: "+id, nil)
}

func newBlobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// countingReader records how many bytes were read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
