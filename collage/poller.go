package collage

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

type FallbackPollerSettings struct {
	PollInterval time.Duration
}

func DefaultFallbackPollerSettings() *FallbackPollerSettings {
	return &FallbackPollerSettings{
		PollInterval: 3 * time.Second,
	}
}

// keeps the store approximately fresh while the change channel is down
// by re-fetching the full photo set on a fixed interval.
// the channel being down means there is no way to know which ids
// changed, so each tick replaces the whole set.
type FallbackPoller struct {
	ctx    context.Context
	cancel context.CancelFunc

	collageId Id
	api       *CollageApi
	store     *PhotoStore

	settings *FallbackPollerSettings
}

func NewFallbackPollerWithDefaults(
	ctx context.Context,
	collageId Id,
	api *CollageApi,
	store *PhotoStore,
) *FallbackPoller {
	return NewFallbackPoller(ctx, collageId, api, store, DefaultFallbackPollerSettings())
}

func NewFallbackPoller(
	ctx context.Context,
	collageId Id,
	api *CollageApi,
	store *PhotoStore,
	settings *FallbackPollerSettings,
) *FallbackPoller {
	cancelCtx, cancel := context.WithCancel(ctx)
	poller := &FallbackPoller{
		ctx:       cancelCtx,
		cancel:    cancel,
		collageId: collageId,
		api:       api,
		store:     store,
		settings:  settings,
	}
	go HandleError(poller.run)
	return poller
}

func (self *FallbackPoller) run() {
	defer self.cancel()

	for {
		if glog.V(2) {
			Trace(fmt.Sprintf("[poll]%s", self.collageId), self.poll)
		} else {
			self.poll()
		}

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.PollInterval):
		}
	}
}

func (self *FallbackPoller) poll() {
	result, err := self.api.GetPhotosSync(self.collageId)
	if err != nil {
		// poll failures are not fatal. the interval continues.
		glog.Infof("[poll]%s fetch error = %s\n", self.collageId, err)
		return
	}

	select {
	case <-self.ctx.Done():
		// canceled while the fetch was in flight. do not apply.
		return
	default:
	}

	self.store.ReplaceAll(result.Photos)
	glog.V(2).Infof("[poll]%s replace n=%d\n", self.collageId, len(result.Photos))
}

func (self *FallbackPoller) Close() {
	self.cancel()
}
