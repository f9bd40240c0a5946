package media

import (
	"context"
	"errors"
	"io"
	"time"

	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bucketName = "media"

type blobMetadata struct {
	ContentType string `bson:"contentType"`
	OwnerID     string `bson:"ownerId"`
}

// GridFSUploader keeps blobs in a GridFS bucket of the chat database.
type GridFSUploader struct {
	bucket *gridfs.Bucket
}

func NewGridFSUploader(db *mongo.Database) (*GridFSUploader, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, utils.NewDatabaseError("open media bucket", err)
	}
	return &GridFSUploader{bucket: bucket}, nil
}

func (g *GridFSUploader) Upload(ctx context.Context, owner uuid.UUID, name, contentType string, r io.Reader) (*Blob, error) {
	id := newBlobID()
	opts := options.GridFSUpload().SetMetadata(blobMetadata{
		ContentType: contentType,
		OwnerID:     owner.String(),
	})

	counter := &countingReader{r: r}
	if err := g.bucket.UploadFromStreamWithID(id, name, counter, opts); err != nil {
		return nil, utils.NewDatabaseError("upload media", err)
	}

	return &Blob{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        counter.n,
		OwnerID:     owner,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (g *GridFSUploader) Open(ctx context.Context, id string) (*Blob, io.ReadCloser, error) {
	stream, err := g.bucket.OpenDownloadStream(id)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, nil, NewBlobNotFoundError(id)
	}
	if err != nil {
		return nil, nil, utils.NewDatabaseError("open media", err)
	}

	file := stream.GetFile()
	var meta blobMetadata
	if len(file.Metadata) > 0 {
		if err := bson.Unmarshal(file.Metadata, &meta); err != nil {
			stream.Close()
			return nil, nil, utils.NewDatabaseError("decode media metadata", err)
		}
	}
	owner, _ := uuid.Parse(meta.OwnerID)

	return &Blob{
		ID:          id,
		Name:        file.Name,
		ContentType: meta.ContentType,
		Size:        file.Length,
		OwnerID:     owner,
		CreatedAt:   file.UploadDate,
	}, stream, nil
}
