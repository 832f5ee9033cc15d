package collage

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// a candidate file rejected before any remote call
type ValidationError struct {
	Message string
}

func (self *ValidationError) Error() string {
	return self.Message
}

func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

type PhotoUpload struct {
	CollageId Id
	Name      string
	MimeType  string
	Data      []byte
}

type MutationCoordinatorSettings struct {
	MaxUploadSize   ByteCount
	AcceptMimeTypes []string
	StorageKey      StorageKeyFunction
}

func DefaultMutationCoordinatorSettings() *MutationCoordinatorSettings {
	return &MutationCoordinatorSettings{
		MaxUploadSize: mib(10),
		AcceptMimeTypes: []string{
			"image/jpeg",
			"image/png",
			"image/webp",
		},
		StorageKey: DefaultStorageKey,
	}
}

// client-initiated create/delete with optimistic local state.
// the store is mirrored immediately where it is safe, and rolled back
// exactly when the remote refuses, so the replica never diverges
// permanently from the remote store.
type MutationCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	api     *CollageApi
	objects *ObjectStore
	store   *PhotoStore

	settings *MutationCoordinatorSettings
}

func NewMutationCoordinatorWithDefaults(
	ctx context.Context,
	api *CollageApi,
	objects *ObjectStore,
	store *PhotoStore,
) *MutationCoordinator {
	return NewMutationCoordinator(ctx, api, objects, store, DefaultMutationCoordinatorSettings())
}

func NewMutationCoordinator(
	ctx context.Context,
	api *CollageApi,
	objects *ObjectStore,
	store *PhotoStore,
	settings *MutationCoordinatorSettings,
) *MutationCoordinator {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &MutationCoordinator{
		ctx:      cancelCtx,
		cancel:   cancel,
		api:      api,
		objects:  objects,
		store:    store,
		settings: settings,
	}
}

type UploadPhotoCallback apiCallback[*Photo]

func (self *MutationCoordinator) Upload(upload *PhotoUpload, callback UploadPhotoCallback) {
	go HandleError(func() {
		photo, err := self.UploadSync(upload)
		callback.Result(photo, err)
	})
}

// upload protocol:
// 1. validate size and mime type. violations never reach the remote.
// 2. put the bytes under a collage-scoped unique key.
// 3. insert the metadata record referencing the stored object.
// 4. upsert locally for immediate visibility. the change feed will
//    redundantly deliver the same id; upsert makes that race safe.
// 5. on metadata-insert failure the stored object is deleted so
//    storage is never orphaned; the store is never touched.
func (self *MutationCoordinator) UploadSync(upload *PhotoUpload) (*Photo, error) {
	if err := self.validate(upload); err != nil {
		return nil, err
	}
	if err := self.ctx.Err(); err != nil {
		return nil, err
	}

	key := self.settings.StorageKey(upload.CollageId, upload.Name)

	if err := self.objects.Put(key, upload.Data, upload.MimeType); err != nil {
		return nil, err
	}

	// a cancel after the put still runs the orphan cleanup below
	var result *AddPhotoResult
	err := self.ctx.Err()
	if err == nil {
		result, err = self.api.AddPhotoSync(&AddPhotoArgs{
			CollageId:  upload.CollageId,
			Url:        self.objects.PublicUrl(key),
			StorageKey: key,
		})
	}
	if err != nil || result.Photo == nil {
		if cleanupErr := self.objects.Delete(key); cleanupErr != nil {
			glog.Infof("[mutate]orphan cleanup error %s = %s\n", key, cleanupErr)
		}
		if err == nil {
			err = fmt.Errorf("add photo: empty result")
		}
		return nil, err
	}

	self.store.Upsert(result.Photo)
	return result.Photo.Copy(), nil
}

func (self *MutationCoordinator) validate(upload *PhotoUpload) error {
	if len(upload.Data) == 0 {
		return &ValidationError{Message: "upload is empty"}
	}
	if self.settings.MaxUploadSize < ByteCount(len(upload.Data)) {
		return &ValidationError{
			Message: fmt.Sprintf(
				"upload exceeds maximum size: %d < %d",
				self.settings.MaxUploadSize,
				len(upload.Data),
			),
		}
	}
	if !slices.Contains(self.settings.AcceptMimeTypes, upload.MimeType) {
		return &ValidationError{
			Message: fmt.Sprintf("mime type not accepted: %s", upload.MimeType),
		}
	}
	return nil
}

type DeletePhotoCallback apiCallback[Id]

func (self *MutationCoordinator) Delete(photoId Id, callback DeletePhotoCallback) {
	go HandleError(func() {
		err := self.DeleteSync(photoId)
		callback.Result(photoId, err)
	})
}

// delete protocol (optimistic):
// 1. remove locally for instant feedback, retaining the record and
//    its position for rollback.
// 2. fetch the remote metadata to recover the storage key. remote
//    "not found" is an idempotent success.
// 3. delete the remote metadata record. "not found" is likewise
//    success. any other failure restores the record at its original
//    position before the error is surfaced, so a caller never
//    observes an error alongside a half-removed store.
// 4. best-effort delete of the stored object; failures are logged
//    only and never rolled back.
func (self *MutationCoordinator) DeleteSync(photoId Id) error {
	if err := self.ctx.Err(); err != nil {
		return err
	}

	removed, index, found := self.store.Remove(photoId)

	rollback := func() {
		if found {
			self.store.Restore(removed, index)
		}
	}

	storageKey := ""
	result, err := self.api.GetPhotoSync(photoId)
	switch {
	case err == nil:
		if result.Photo != nil {
			storageKey = result.Photo.StorageKey
		}
	case errors.Is(err, ErrPhotoNotFound):
		// already gone remotely
		return nil
	default:
		rollback()
		return err
	}

	if err := self.ctx.Err(); err != nil {
		rollback()
		return err
	}

	if _, err := self.api.RemovePhotoSync(photoId); err != nil {
		if errors.Is(err, ErrPhotoNotFound) {
			return nil
		}
		rollback()
		return err
	}

	if storageKey != "" {
		if cleanupErr := self.objects.Delete(storageKey); cleanupErr != nil {
			glog.Infof("[mutate]object cleanup error %s = %s\n", storageKey, cleanupErr)
		}
	}

	return nil
}

func (self *MutationCoordinator) Close() {
	self.cancel()
}
