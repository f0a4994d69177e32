// Package archive optionally mirrors assembled files to cloud storage
// after they publish, as a best-effort supplement to the on-disk
// manifest. A failure here never blocks or fails a transfer.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	stderrs "errors"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

// Archiver uploads an assembled file after it publishes.
type Archiver interface {
	Archive(ctx context.Context, fileID, originalName, localPath string) error
}

// GCS archives published files into a Google Cloud Storage bucket,
// under object names "relay/<file_id>/<original_name>".
type GCS struct {
	bucket *storage.BucketHandle
}

// NewGCS wraps bucket as an Archiver.
func NewGCS(bucket *storage.BucketHandle) *GCS {
	return &GCS{bucket: bucket}
}

// Archive uploads localPath, skipping the upload if the object already
// exists (idempotent under redelivery).
func (g *GCS) Archive(ctx context.Context, fileID, originalName, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", localPath)
	}
	defer f.Close()

	name := objectName(fileID, originalName)
	obj := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)

	_, err = io.Copy(w, f)
	closeErr := w.Close()

	var gerr *googleapi.Error
	if stderrs.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return nil
	}
	if stderrs.As(closeErr, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "uploading %s", name)
	}
	return errors.Wrapf(closeErr, "finishing upload of %s", name)
}

func objectName(fileID, originalName string) string {
	return fmt.Sprintf("relay/%s/%s", fileID, originalName)
}
