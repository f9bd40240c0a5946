package media

import (
	"context"
	"io"
	"strings"
	"testing"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUploaderRoundTrip(t *testing.T) {
	ctx := context.Background()
	up := NewMemoryUploader()
	owner := uuid.New()

	blob, err := up.Upload(ctx, owner, "cat.png", "image/png", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), blob.Size)
	assert.Equal(t, URLPrefix+blob.ID, blob.URL())

	got, body, err := up.Open(ctx, blob.ID)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, "cat.png", got.Name)

	_, _, err = up.Open(ctx, "missing")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestAttachmentKind(t *testing.T) {
	tests := map[string]models.AttachmentKind{
		"image/jpeg":      models.AttachmentImage,
		"audio/ogg":       models.AttachmentAudio,
		"application/pdf": models.AttachmentFile,
		"":                models.AttachmentFile,
	}
	for contentType, want := range tests {
		assert.Equal(t, want, KindFor(contentType), contentType)
	}

	blob := &Blob{ID: "b1", Name: "voice.ogg", ContentType: "audio/ogg", Size: 10}
	att := blob.Attachment()
	assert.True(t, att.Valid())
	assert.Equal(t, "/media/b1", att.URL)
}
