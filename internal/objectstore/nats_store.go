// Package objectstore stores pipeline input text and finished audio in a
// NATS JetStream object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/afero"
)

const (
	descriptionFormat = "Storage for the %s bucket."

	errFmtBind     = "failed to bind to existing object store bucket '%s': %w"
	errFmtCreate   = "failed to create object store bucket '%s': %w"
	errFmtGet      = "failed to get object '%s' from bucket '%s': %w"
	errFmtRead     = "failed to read object '%s': %w"
	errFmtClose    = "failed to close object '%s': %w"
	errFmtPut      = "failed to put object '%s' to bucket '%s': %w"
	errFmtOpenFile = "failed to open '%s' for upload: %w"
	errFmtDelete   = "failed to delete object '%s' from bucket '%s': %w"
)

// NatsObjectStore implements core.ObjectStore on NATS JetStream.
type NatsObjectStore struct {
	store  nats.ObjectStore
	bucket string
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf(descriptionFormat, bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf(errFmtCreate, bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(errFmtBind, bucketName, err)
		}
	}

	return &NatsObjectStore{store: store, bucket: bucketName}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf(errFmtGet, key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf(errFmtRead, key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf(errFmtClose, key, closeErr)
	}

	return data, nil
}

// Upload saves data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	return n.put(key, bytes.NewReader(data))
}

// UploadFile streams the file at path on fs into the bucket under key.
func (n *NatsObjectStore) UploadFile(_ context.Context, key string, fs afero.Fs, path string) error {
	file, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf(errFmtOpenFile, path, err)
	}
	defer file.Close()

	return n.put(key, file)
}

// Delete removes an object.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return fmt.Errorf(errFmtDelete, key, n.bucket, err)
	}

	return nil
}

func (n *NatsObjectStore) put(key string, reader io.Reader) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, reader)
	if err != nil {
		return fmt.Errorf(errFmtPut, key, n.bucket, err)
	}

	return nil
}
