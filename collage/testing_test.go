package collage

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// in-memory stand-in for the remote metadata store and the binary
// object store, served from one httptest server.
// `apiUrl()` is the metadata surface, `storageUrl()` the object surface.
type testRemote struct {
	mutex sync.Mutex

	photos map[Id]*Photo
	// newest first, matching the remote fetch order
	order   []Id
	objects map[string][]byte

	failAddPhoto    bool
	failGetPhoto    bool
	failRemovePhoto bool
	failGetPhotos   bool
	failPutObject   bool
	failDropObject  bool

	// holds each fetch response, to widen in-flight windows
	fetchDelay time.Duration

	server *httptest.Server
}

func newTestRemote() *testRemote {
	remote := &testRemote{
		photos:  map[Id]*Photo{},
		order:   []Id{},
		objects: map[string][]byte{},
	}
	remote.server = httptest.NewServer(http.HandlerFunc(remote.handle))
	return remote
}

func (self *testRemote) setFail(update func(remote *testRemote)) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	update(self)
}

func (self *testRemote) failing(read func(remote *testRemote) bool) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return read(self)
}

func (self *testRemote) apiUrl() string {
	return self.server.URL
}

func (self *testRemote) storageUrl() string {
	return self.server.URL + "/storage"
}

func (self *testRemote) Close() {
	self.server.Close()
}

func (self *testRemote) addPhoto(collageId Id, url string, storageKey string) *Photo {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	photo := &Photo{
		PhotoId:    NewId(),
		CollageId:  collageId,
		Url:        url,
		StorageKey: storageKey,
		CreateTime: time.Now().UTC(),
	}
	self.photos[photo.PhotoId] = photo
	self.order = append([]Id{photo.PhotoId}, self.order...)
	return photo
}

func (self *testRemote) removePhoto(photoId Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.photos[photoId]; !ok {
		return false
	}
	delete(self.photos, photoId)
	for i, orderedId := range self.order {
		if orderedId == photoId {
			self.order = append(self.order[:i], self.order[i+1:]...)
			break
		}
	}
	return true
}

func (self *testRemote) photoCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.photos)
}

func (self *testRemote) objectCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.objects)
}

func (self *testRemote) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasPrefix(path, "/storage/"):
		self.handleStorage(w, r, strings.TrimPrefix(path, "/storage/"))
	case path == "/photo" && r.Method == "POST":
		self.handleAddPhoto(w, r)
	case strings.HasPrefix(path, "/photo/"):
		self.handlePhoto(w, r, strings.TrimPrefix(path, "/photo/"))
	case strings.HasPrefix(path, "/collage/") && strings.HasSuffix(path, "/photos"):
		self.handleGetPhotos(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/collage/"), "/photos"))
	case path == "/auth/viewer":
		json.NewEncoder(w).Encode(&AuthViewerResult{ByJwt: "test-jwt"})
	default:
		http.Error(w, "no route", http.StatusNotFound)
	}
}

func (self *testRemote) handleStorage(w http.ResponseWriter, r *http.Request, key string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	switch r.Method {
	case "PUT":
		if self.failPutObject {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		data, _ := io.ReadAll(r.Body)
		self.objects[key] = data
		w.WriteHeader(http.StatusCreated)
	case "DELETE":
		if self.failDropObject {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		delete(self.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
	}
}

func (self *testRemote) handleAddPhoto(w http.ResponseWriter, r *http.Request) {
	if self.failing(func(remote *testRemote) bool { return remote.failAddPhoto }) {
		http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
		return
	}
	var args AddPhotoArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	photo := self.addPhoto(args.CollageId, args.Url, args.StorageKey)
	json.NewEncoder(w).Encode(&AddPhotoResult{Photo: photo})
}

func (self *testRemote) handlePhoto(w http.ResponseWriter, r *http.Request, photoIdStr string) {
	photoId, err := ParseId(photoIdStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case "GET":
		if self.failing(func(remote *testRemote) bool { return remote.failGetPhoto }) {
			http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
			return
		}
		self.mutex.Lock()
		photo, ok := self.photos[photoId]
		self.mutex.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(&GetPhotoResult{Photo: photo})
	case "DELETE":
		if self.failing(func(remote *testRemote) bool { return remote.failRemovePhoto }) {
			http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
			return
		}
		if !self.removePhoto(photoId) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(&RemovePhotoResult{PhotoId: photoId})
	default:
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
	}
}

func (self *testRemote) handleGetPhotos(w http.ResponseWriter, r *http.Request, collageIdStr string) {
	collageId, err := ParseId(collageIdStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if self.failing(func(remote *testRemote) bool { return remote.failGetPhotos }) {
		http.Error(w, "metadata store unavailable", http.StatusServiceUnavailable)
		return
	}

	self.mutex.Lock()
	fetchDelay := self.fetchDelay
	self.mutex.Unlock()
	if 0 < fetchDelay {
		time.Sleep(fetchDelay)
	}

	self.mutex.Lock()
	photos := []*Photo{}
	for _, photoId := range self.order {
		photo := self.photos[photoId]
		if photo.CollageId == collageId {
			photos = append(photos, photo)
		}
	}
	self.mutex.Unlock()

	json.NewEncoder(w).Encode(&GetPhotosResult{Photos: photos})
}

func testPhoto(collageId Id) *Photo {
	photoId := NewId()
	return &Photo{
		PhotoId:    photoId,
		CollageId:  collageId,
		Url:        "https://storage.test/" + photoId.String(),
		StorageKey: collageId.String() + "/" + photoId.String(),
		CreateTime: time.Now().UTC(),
	}
}

// set/sequence agreement holds after every mutation
func storeInvariant(store *PhotoStore) bool {
	store.stateLock.Lock()
	defer store.stateLock.Unlock()

	if len(store.photos) != len(store.order) {
		return false
	}
	for _, photoId := range store.order {
		if _, ok := store.photos[photoId]; !ok {
			return false
		}
	}
	return true
}

func waitFor(timeout time.Duration, condition func() bool) bool {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}
