package collage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// subscriber state machine:
// SubscriberStateIdle
//
//	-> SubscriberStateConnecting
//	  -> SubscriberStateConnected
//	    -> SubscriberStateDisconnected (terminal)
//	  -> SubscriberStateDisconnected (terminal)
type SubscriberState string

const (
	SubscriberStateIdle         SubscriberState = "Idle"
	SubscriberStateConnecting   SubscriberState = "Connecting"
	SubscriberStateConnected    SubscriberState = "Connected"
	SubscriberStateDisconnected SubscriberState = "Disconnected"
)

func (self SubscriberState) IsTerminal() bool {
	switch self {
	case SubscriberStateDisconnected:
		return true
	default:
		return false
	}
}

type SubscriberStateFunction = func(state SubscriberState)

type ChangeEventType string

const (
	ChangeEventTypeInsert ChangeEventType = "insert"
	ChangeEventTypeUpdate ChangeEventType = "update"
	ChangeEventTypeDelete ChangeEventType = "delete"
)

// one remote mutation pushed on the change channel.
// insert and update carry the affected record; delete carries the id.
type ChangeEvent struct {
	Type      ChangeEventType `json:"type"`
	CollageId Id              `json:"collage_id"`
	PhotoId   Id              `json:"photo_id,omitempty"`
	Photo     *Photo          `json:"photo,omitempty"`
}

type ViewerAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

type subscribeFrame struct {
	ByJwt      string `json:"by_jwt"`
	CollageId  Id     `json:"collage_id"`
	InstanceId Id     `json:"instance_id"`
	AppVersion string `json:"app_version,omitempty"`
}

type subscribeAck struct {
	CollageId Id                 `json:"collage_id"`
	Error     *subscribeAckError `json:"error,omitempty"`
}

type subscribeAckError struct {
	Message string `json:"message"`
}

type ChangeFeedSubscriberSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	MaxMessageSize     ByteCount
}

func DefaultChangeFeedSubscriberSettings() *ChangeFeedSubscriberSettings {
	return &ChangeFeedSubscriberSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		MaxMessageSize:     kib(256),
	}
}

// one live subscription to the change channel of one collage.
// each subscriber runs at most one websocket session; reconnect timing
// is owned by the supervisor, never retried here.
type ChangeFeedSubscriber struct {
	ctx    context.Context
	cancel context.CancelFunc

	collageId  Id
	channelUrl string
	auth       *ViewerAuth
	store      *PhotoStore

	settings *ChangeFeedSubscriberSettings

	stateLock sync.Mutex
	state     SubscriberState

	stateCallbacks *CallbackList[SubscriberStateFunction]
}

func NewChangeFeedSubscriberWithDefaults(
	ctx context.Context,
	collageId Id,
	channelUrl string,
	auth *ViewerAuth,
	store *PhotoStore,
) *ChangeFeedSubscriber {
	return NewChangeFeedSubscriber(
		ctx,
		collageId,
		channelUrl,
		auth,
		store,
		DefaultChangeFeedSubscriberSettings(),
	)
}

func NewChangeFeedSubscriber(
	ctx context.Context,
	collageId Id,
	channelUrl string,
	auth *ViewerAuth,
	store *PhotoStore,
	settings *ChangeFeedSubscriberSettings,
) *ChangeFeedSubscriber {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChangeFeedSubscriber{
		ctx:            cancelCtx,
		cancel:         cancel,
		collageId:      collageId,
		channelUrl:     channelUrl,
		auth:           auth,
		store:          store,
		settings:       settings,
		state:          SubscriberStateIdle,
		stateCallbacks: NewCallbackList[SubscriberStateFunction](),
	}
}

func (self *ChangeFeedSubscriber) State() SubscriberState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *ChangeFeedSubscriber) AddStateCallback(stateCallback SubscriberStateFunction) func() {
	callbackId := self.stateCallbacks.Add(stateCallback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

func (self *ChangeFeedSubscriber) setState(state SubscriberState) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.state.IsTerminal() {
			return
		}
		if self.state != state {
			self.state = state
			changed = true
		}
	}()
	if changed {
		for _, callback := range self.stateCallbacks.Get() {
			callback(state)
		}
	}
}

// runs one subscribe session and blocks until it ends.
// always ends in SubscriberStateDisconnected.
func (self *ChangeFeedSubscriber) Run() error {
	defer self.cancel()
	defer self.setState(SubscriberStateDisconnected)

	self.setState(SubscriberStateConnecting)

	connect := func() (*websocket.Conn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		url := fmt.Sprintf("%s/collage/%s/changes", self.channelUrl, self.collageId)
		ws, _, err := dialer.DialContext(self.ctx, url, nil)
		if err != nil {
			return nil, err
		}
		ws.SetReadLimit(self.settings.MaxMessageSize)

		success := false
		defer func() {
			if !success {
				ws.Close()
			}
		}()

		subscribeBytes, err := json.Marshal(&subscribeFrame{
			ByJwt:      self.auth.ByJwt,
			CollageId:  self.collageId,
			InstanceId: self.auth.InstanceId,
			AppVersion: self.auth.AppVersion,
		})
		if err != nil {
			return nil, err
		}

		ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, subscribeBytes); err != nil {
			return nil, err
		}
		ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		var ack subscribeAck
		if err := json.Unmarshal(message, &ack); err != nil {
			return nil, err
		}
		if ack.Error != nil {
			return nil, fmt.Errorf("subscribe error: %s", ack.Error.Message)
		}
		if ack.CollageId != self.collageId {
			return nil, fmt.Errorf("subscribe ack error: bad collage_id.")
		}

		success = true
		return ws, nil
	}

	ws, err := TraceWithReturnError(
		fmt.Sprintf("[feed]connect %s", self.collageId),
		connect,
	)
	if err != nil {
		glog.Infof("[feed]subscribe error %s = %s\n", self.collageId, err)
		return err
	}
	defer ws.Close()

	self.setState(SubscriberStateConnected)

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// keepalive writes so that an idle channel is distinguishable
	// from a dead one
	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return nil
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[feed]%s<- error = %s\n", self.collageId, err)
			return err
		}

		if 0 == len(message) {
			// ping
			glog.V(2).Infof("[feed]ping %s<-\n", self.collageId)
			continue
		}

		var event ChangeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			glog.Infof("[feed]%s<- bad event = %s\n", self.collageId, err)
			return err
		}

		select {
		case <-handleCtx.Done():
			// canceled while the event was in flight. do not apply.
			return nil
		default:
		}

		self.apply(&event)
	}
}

// events are applied in delivery order and never reordered or batched
func (self *ChangeFeedSubscriber) apply(event *ChangeEvent) {
	eventCollageId := event.CollageId
	if event.Photo != nil {
		eventCollageId = event.Photo.CollageId
	}
	if eventCollageId != self.collageId {
		// stale or misrouted event
		glog.V(2).Infof("[feed]drop %s<-%s\n", self.collageId, eventCollageId)
		return
	}

	switch event.Type {
	case ChangeEventTypeInsert:
		if event.Photo != nil {
			self.store.Upsert(event.Photo)
			glog.V(2).Infof("[feed]insert %s<-\n", self.collageId)
		}
	case ChangeEventTypeUpdate:
		if event.Photo != nil {
			self.store.UpdateUrl(event.Photo.PhotoId, event.Photo.Url)
			glog.V(2).Infof("[feed]update %s<-\n", self.collageId)
		}
	case ChangeEventTypeDelete:
		self.store.Remove(event.PhotoId)
		glog.V(2).Infof("[feed]delete %s<-\n", self.collageId)
	default:
		glog.V(2).Infof("[feed]other=%s %s<-\n", event.Type, self.collageId)
	}
}

func (self *ChangeFeedSubscriber) Close() {
	self.cancel()
}
