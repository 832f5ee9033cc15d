package collage

import (
	"sync"
)

// called after any mutation of the store, outside the state lock
type StoreChangeFunction = func()

// the client-held mirror of the remote photo set for one collage.
// the lookup map and the presentation order are one logical structure:
// every mutation updates both under `stateLock`, so the id set of
// `order` always equals the key set of `photos`.
// presentation order is newest first. an optimistically inserted local
// photo sits at the head until a full fetch imposes the remote order.
type PhotoStore struct {
	stateLock sync.Mutex

	photos map[Id]*Photo
	order  []Id

	changeCallbacks *CallbackList[StoreChangeFunction]
}

func NewPhotoStore() *PhotoStore {
	return &PhotoStore{
		photos:          map[Id]*Photo{},
		order:           []Id{},
		changeCallbacks: NewCallbackList[StoreChangeFunction](),
	}
}

func (self *PhotoStore) AddChangeCallback(changeCallback StoreChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *PhotoStore) change() {
	for _, callback := range self.changeCallbacks.Get() {
		callback()
	}
}

// inserts at the head of the presentation order.
// a duplicate id is a no-op. a remote insert never silently
// overwrites a record already present.
func (self *PhotoStore) Upsert(photo *Photo) bool {
	added := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.photos[photo.PhotoId]; ok {
			return
		}
		self.photos[photo.PhotoId] = photo.Copy()
		self.order = append([]Id{photo.PhotoId}, self.order...)
		added = true
	}()
	if added {
		self.change()
	}
	return added
}

// removes from both the map and the order. a missing id is a no-op.
// the removed record and its position are returned so that an
// optimistic delete can be rolled back exactly.
func (self *PhotoStore) Remove(photoId Id) (removed *Photo, index int, found bool) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		photo, ok := self.photos[photoId]
		if !ok {
			return
		}
		delete(self.photos, photoId)
		for i, orderedId := range self.order {
			if orderedId == photoId {
				self.order = append(self.order[:i], self.order[i+1:]...)
				removed = photo
				index = i
				found = true
				return
			}
		}
	}()
	if found {
		self.change()
	}
	return
}

// reinserts a previously removed record at its original position.
// a no-op if the id is already present (e.g. the change feed
// redelivered the record while the delete was in flight).
func (self *PhotoStore) Restore(photo *Photo, index int) bool {
	restored := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.photos[photo.PhotoId]; ok {
			return
		}
		if index < 0 {
			index = 0
		}
		if len(self.order) < index {
			index = len(self.order)
		}
		self.photos[photo.PhotoId] = photo.Copy()
		self.order = append(self.order[:index:index], append([]Id{photo.PhotoId}, self.order[index:]...)...)
		restored = true
	}()
	if restored {
		self.change()
	}
	return restored
}

// replaces the mutable fields of an existing record.
// the presentation position is not changed.
func (self *PhotoStore) UpdateUrl(photoId Id, url string) bool {
	updated := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		photo, ok := self.photos[photoId]
		if !ok {
			return
		}
		photo.Url = url
		updated = true
	}()
	if updated {
		self.change()
	}
	return updated
}

// atomically replaces the entire set with a freshly fetched one,
// preserving the order given by the fetch
func (self *PhotoStore) ReplaceAll(photos []*Photo) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.photos = map[Id]*Photo{}
		self.order = make([]Id, 0, len(photos))
		for _, photo := range photos {
			if _, ok := self.photos[photo.PhotoId]; ok {
				// a duplicate id in a fetch keeps the first occurrence
				continue
			}
			self.photos[photo.PhotoId] = photo.Copy()
			self.order = append(self.order, photo.PhotoId)
		}
	}()
	self.change()
}

// a stable copy of the presentation sequence.
// safe to iterate while the store continues to mutate.
func (self *PhotoStore) Snapshot() []*Photo {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	photos := make([]*Photo, 0, len(self.order))
	for _, photoId := range self.order {
		photos = append(photos, self.photos[photoId].Copy())
	}
	return photos
}

func (self *PhotoStore) Get(photoId Id) (*Photo, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	photo, ok := self.photos[photoId]
	if !ok {
		return nil, false
	}
	return photo.Copy(), true
}

func (self *PhotoStore) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.photos)
}
