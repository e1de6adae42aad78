package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
)

// FirebaseStore writes objects to the Firebase default bucket and makes them
// publicly readable.
type FirebaseStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

func NewFirebaseStore(ctx context.Context, app *firebase.App, bucketName string) (*FirebaseStore, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing storage client: %w", err)
	}

	var bucket *gcs.BucketHandle
	if bucketName == "" {
		bucket, err = client.DefaultBucket()
	} else {
		bucket, err = client.Bucket(bucketName)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening bucket: %w", err)
	}

	attrs, err := bucket.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading bucket attrs: %w", err)
	}
	return &FirebaseStore{bucket: bucket, bucketName: attrs.Name}, nil
}

func (s *FirebaseStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}

	obj := s.bucket.Object(clean)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=3600"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}

	if err := obj.ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		return "", fmt.Errorf("publish object: %w", err)
	}
	return s.PublicURL(clean), nil
}

func (s *FirebaseStore) Delete(ctx context.Context, objectPath string) error {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	err = s.bucket.Object(clean).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *FirebaseStore) PublicURL(objectPath string) string {
	segments := strings.Split(strings.TrimLeft(objectPath, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "https://storage.googleapis.com/" + s.bucketName + "/" + strings.Join(segments, "/")
}
