package collage

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type ConnectionState struct {
	Connected bool
	Polling   bool
}

type ConnectionStateFunction = func(state ConnectionState)

type ConnectionSupervisorSettings struct {
	ReconnectTimeout   time.Duration
	SubscriberSettings *ChangeFeedSubscriberSettings
	PollerSettings     *FallbackPollerSettings
}

func DefaultConnectionSupervisorSettings() *ConnectionSupervisorSettings {
	return &ConnectionSupervisorSettings{
		ReconnectTimeout:   5 * time.Second,
		SubscriberSettings: DefaultChangeFeedSubscriberSettings(),
		PollerSettings:     DefaultFallbackPollerSettings(),
	}
}

// arbitrates exactly one active update source per collage:
// - subscriber connected -> any active poller is stopped
// - subscriber lost or never connected -> the poller runs
// - watching a different collage tears down the old session, and
//   both sources for it, before the new one starts
type ConnectionSupervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	channelUrl string
	auth       *ViewerAuth
	api        *CollageApi
	store      *PhotoStore

	settings *ConnectionSupervisorSettings

	stateLock     sync.Mutex
	collageId     Id
	sessionId     int
	sessionCancel context.CancelFunc
	connected     bool
	poller        *FallbackPoller

	connectionStateCallbacks *CallbackList[ConnectionStateFunction]
}

func NewConnectionSupervisorWithDefaults(
	ctx context.Context,
	channelUrl string,
	auth *ViewerAuth,
	api *CollageApi,
	store *PhotoStore,
) *ConnectionSupervisor {
	return NewConnectionSupervisor(ctx, channelUrl, auth, api, store, DefaultConnectionSupervisorSettings())
}

func NewConnectionSupervisor(
	ctx context.Context,
	channelUrl string,
	auth *ViewerAuth,
	api *CollageApi,
	store *PhotoStore,
	settings *ConnectionSupervisorSettings,
) *ConnectionSupervisor {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionSupervisor{
		ctx:                      cancelCtx,
		cancel:                   cancel,
		channelUrl:               channelUrl,
		auth:                     auth,
		api:                      api,
		store:                    store,
		settings:                 settings,
		connectionStateCallbacks: NewCallbackList[ConnectionStateFunction](),
	}
}

func (self *ConnectionSupervisor) AddConnectionStateCallback(connectionStateCallback ConnectionStateFunction) func() {
	callbackId := self.connectionStateCallbacks.Add(connectionStateCallback)
	return func() {
		self.connectionStateCallbacks.Remove(callbackId)
	}
}

func (self *ConnectionSupervisor) ConnectionState() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return ConnectionState{
		Connected: self.connected,
		Polling:   self.poller != nil,
	}
}

func (self *ConnectionSupervisor) ActiveCollageId() Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.collageId
}

// starts watching a collage, tearing down the session of any
// previously watched collage first. never runs two collages' update
// sources concurrently.
func (self *ConnectionSupervisor) Watch(collageId Id) {
	var sessionCtx context.Context
	var sessionId int
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.teardownSession()

		self.collageId = collageId
		self.sessionId += 1
		sessionId = self.sessionId
		sessionCtx, self.sessionCancel = context.WithCancel(self.ctx)
	}()

	go HandleError(func() {
		self.run(sessionCtx, collageId, sessionId)
	})
}

// stops watching. leaves zero active subscribers and pollers.
func (self *ConnectionSupervisor) Stop() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.teardownSession()
	self.collageId = Id{}
	self.sessionId += 1
}

// must be called with `stateLock`
func (self *ConnectionSupervisor) teardownSession() {
	if self.sessionCancel != nil {
		self.sessionCancel()
		self.sessionCancel = nil
	}
	if self.poller != nil {
		self.poller.Close()
		self.poller = nil
	}
	self.connected = false
}

func (self *ConnectionSupervisor) run(ctx context.Context, collageId Id, sessionId int) {
	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		subscriber := NewChangeFeedSubscriber(
			ctx,
			collageId,
			self.channelUrl,
			self.auth,
			self.store,
			self.settings.SubscriberSettings,
		)
		removeCallback := subscriber.AddStateCallback(func(state SubscriberState) {
			switch state {
			case SubscriberStateConnected:
				self.setConnected(ctx, sessionId, true)
			case SubscriberStateDisconnected:
				self.setConnected(ctx, sessionId, false)
			}
		})
		subscriber.Run()
		removeCallback()
		subscriber.Close()

		select {
		case <-ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *ConnectionSupervisor) setConnected(ctx context.Context, sessionId int, connected bool) {
	var connectionState ConnectionState
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if sessionId != self.sessionId {
			// a stale session must not mutate the current one
			return
		}

		if connected {
			if self.poller != nil {
				self.poller.Close()
				self.poller = nil
				changed = true
			}
			if !self.connected {
				self.connected = true
				changed = true
			}
		} else {
			if self.connected {
				self.connected = false
				changed = true
			}
			if self.poller == nil {
				self.poller = NewFallbackPoller(
					ctx,
					self.collageId,
					self.api,
					self.store,
					self.settings.PollerSettings,
				)
				changed = true
				glog.Infof("[sup]%s fallback to polling\n", self.collageId)
			}
		}

		connectionState = ConnectionState{
			Connected: self.connected,
			Polling:   self.poller != nil,
		}
	}()

	if changed {
		for _, callback := range self.connectionStateCallbacks.Get() {
			callback(connectionState)
		}
	}
}

func (self *ConnectionSupervisor) Close() {
	// invalidate the session id so a straggling subscriber callback
	// cannot revive a poller after close
	self.Stop()
	self.cancel()
}
