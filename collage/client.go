package collage

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

type CollageClientSettings struct {
	ObjectStoreSettings *ObjectStoreSettings
	CoordinatorSettings *MutationCoordinatorSettings
	SupervisorSettings  *ConnectionSupervisorSettings
}

func DefaultCollageClientSettings() *CollageClientSettings {
	return &CollageClientSettings{
		ObjectStoreSettings: DefaultObjectStoreSettings(),
		CoordinatorSettings: DefaultMutationCoordinatorSettings(),
		SupervisorSettings:  DefaultConnectionSupervisorSettings(),
	}
}

// the synchronization engine for one viewer.
// owns the replica store exclusively; everything outside the engine
// reads snapshots and calls the mutation surface below.
type CollageClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	api         *CollageApi
	objects     *ObjectStore
	store       *PhotoStore
	coordinator *MutationCoordinator
	supervisor  *ConnectionSupervisor

	stateLock   sync.Mutex
	watchCancel context.CancelFunc
}

func NewCollageClientWithDefaults(
	ctx context.Context,
	apiUrl string,
	storageUrl string,
	channelUrl string,
	auth *ViewerAuth,
) *CollageClient {
	return NewCollageClient(ctx, apiUrl, storageUrl, channelUrl, auth, DefaultCollageClientSettings())
}

func NewCollageClient(
	ctx context.Context,
	apiUrl string,
	storageUrl string,
	channelUrl string,
	auth *ViewerAuth,
	settings *CollageClientSettings,
) *CollageClient {
	cancelCtx, cancel := context.WithCancel(ctx)

	api := NewCollageApiWithContext(cancelCtx, apiUrl)
	api.SetByJwt(auth.ByJwt)

	objects := NewObjectStore(cancelCtx, storageUrl, settings.ObjectStoreSettings)
	objects.SetByJwt(auth.ByJwt)

	store := NewPhotoStore()

	return &CollageClient{
		ctx:         cancelCtx,
		cancel:      cancel,
		api:         api,
		objects:     objects,
		store:       store,
		coordinator: NewMutationCoordinator(cancelCtx, api, objects, store, settings.CoordinatorSettings),
		supervisor:  NewConnectionSupervisor(cancelCtx, channelUrl, auth, api, store, settings.SupervisorSettings),
	}
}

// switches the watched collage. the old collage's subscriber and
// poller are torn down before the new ones start, and the store is
// cleared so no stale records show through.
func (self *CollageClient) Watch(collageId Id) {
	var watchCtx context.Context
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.watchCancel != nil {
			self.watchCancel()
		}
		watchCtx, self.watchCancel = context.WithCancel(self.ctx)
		self.store.ReplaceAll(nil)
	}()

	self.supervisor.Watch(collageId)

	// one immediate full fetch so a fresh collage is populated before
	// the first push event or poll tick
	go HandleError(func() {
		result, err := self.api.GetPhotosSync(collageId)
		if err != nil {
			glog.Infof("[client]%s initial fetch error = %s\n", collageId, err)
			return
		}

		// the cancel check and the apply are one atomic step under
		// `stateLock`, so a fetch for an abandoned collage can never
		// land after the next watch begins
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		select {
		case <-watchCtx.Done():
			return
		default:
		}
		self.store.ReplaceAll(result.Photos)
	})
}

func (self *CollageClient) GetSnapshot() []*Photo {
	return self.store.Snapshot()
}

func (self *CollageClient) Get(photoId Id) (*Photo, bool) {
	return self.store.Get(photoId)
}

func (self *CollageClient) Upload(upload *PhotoUpload, callback UploadPhotoCallback) {
	self.coordinator.Upload(upload, callback)
}

func (self *CollageClient) UploadSync(upload *PhotoUpload) (*Photo, error) {
	return self.coordinator.UploadSync(upload)
}

func (self *CollageClient) Delete(photoId Id, callback DeletePhotoCallback) {
	self.coordinator.Delete(photoId, callback)
}

func (self *CollageClient) DeleteSync(photoId Id) error {
	return self.coordinator.DeleteSync(photoId)
}

func (self *CollageClient) ConnectionState() ConnectionState {
	return self.supervisor.ConnectionState()
}

func (self *CollageClient) AddConnectionStateCallback(connectionStateCallback ConnectionStateFunction) func() {
	return self.supervisor.AddConnectionStateCallback(connectionStateCallback)
}

func (self *CollageClient) AddChangeCallback(changeCallback StoreChangeFunction) func() {
	return self.store.AddChangeCallback(changeCallback)
}

func (self *CollageClient) Close() {
	self.supervisor.Close()
	self.coordinator.Close()
	self.objects.Close()
	self.api.Close()
	self.cancel()
}
