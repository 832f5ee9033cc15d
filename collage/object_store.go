package collage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ObjectStoreSettings struct {
	PutTimeout    time.Duration
	DeleteTimeout time.Duration
}

func DefaultObjectStoreSettings() *ObjectStoreSettings {
	return &ObjectStoreSettings{
		PutTimeout:    60 * time.Second,
		DeleteTimeout: 15 * time.Second,
	}
}

// client for the remote binary object store.
// objects are addressed by a collage-scoped key and served from `PublicUrl`.
type ObjectStore struct {
	ctx    context.Context
	cancel context.CancelFunc

	storageUrl string

	byJwt string

	settings *ObjectStoreSettings
}

func NewObjectStoreWithDefaults(ctx context.Context, storageUrl string) *ObjectStore {
	return NewObjectStore(ctx, storageUrl, DefaultObjectStoreSettings())
}

func NewObjectStore(ctx context.Context, storageUrl string, settings *ObjectStoreSettings) *ObjectStore {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ObjectStore{
		ctx:        cancelCtx,
		cancel:     cancel,
		storageUrl: storageUrl,
		settings:   settings,
	}
}

func (self *ObjectStore) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *ObjectStore) PublicUrl(key string) string {
	return fmt.Sprintf("%s/%s", self.storageUrl, key)
}

func (self *ObjectStore) Put(key string, data []byte, contentType string) error {
	timeoutCtx, timeoutCancel := context.WithTimeout(self.ctx, self.settings.PutTimeout)
	defer timeoutCancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "PUT", self.PublicUrl(key), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", contentType)
	if self.byJwt != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", self.byJwt))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	responseBodyBytes, _ := io.ReadAll(r.Body)
	switch r.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return errors.New(strings.TrimSpace(string(responseBodyBytes)))
	}
}

func (self *ObjectStore) Delete(key string) error {
	timeoutCtx, timeoutCancel := context.WithTimeout(self.ctx, self.settings.DeleteTimeout)
	defer timeoutCancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "DELETE", self.PublicUrl(key), nil)
	if err != nil {
		return err
	}
	if self.byJwt != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", self.byJwt))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	responseBodyBytes, _ := io.ReadAll(r.Body)
	switch r.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		// removing a missing object is not an error
		return nil
	default:
		return errors.New(strings.TrimSpace(string(responseBodyBytes)))
	}
}

func (self *ObjectStore) Close() {
	self.cancel()
}

// (collageId, upload name) -> collage-scoped unique object key
type StorageKeyFunction = func(collageId Id, name string) string

func DefaultStorageKey(collageId Id, name string) string {
	ext := ""
	if i := strings.LastIndex(name, "."); 0 <= i {
		ext = name[i:]
	}
	return fmt.Sprintf("%s/%s%s", collageId, uuid.NewString(), ext)
}
