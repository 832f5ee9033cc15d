package collage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

// the remote reports the record does not exist.
// delete-path operations treat this as an idempotent success.
var ErrPhotoNotFound = errors.New("photo not found")

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// client for the remote photo metadata store
type CollageApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewCollageApi(apiUrl string) *CollageApi {
	return NewCollageApiWithContext(context.Background(), apiUrl)
}

func NewCollageApiWithContext(ctx context.Context, apiUrl string) *CollageApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &CollageApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *CollageApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *CollageApi) Close() {
	self.cancel()
}

type AuthViewerCallback apiCallback[*AuthViewerResult]

type AuthViewerArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthViewerResult struct {
	ByJwt string           `json:"by_jwt,omitempty"`
	Error *AuthViewerError `json:"error,omitempty"`
}

type AuthViewerError struct {
	Message string `json:"message"`
}

func (self *CollageApi) AuthViewer(authViewer *AuthViewerArgs, callback AuthViewerCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/viewer", self.apiUrl),
		authViewer,
		self.byJwt,
		&AuthViewerResult{},
		callback,
	)
}

func (self *CollageApi) AuthViewerSync(authViewer *AuthViewerArgs) (*AuthViewerResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/viewer", self.apiUrl),
		authViewer,
		self.byJwt,
		&AuthViewerResult{},
		NewNoopApiCallback[*AuthViewerResult](),
	)
}

type GetPhotosCallback apiCallback[*GetPhotosResult]

type GetPhotosResult struct {
	Photos []*Photo `json:"photos"`
}

// full fetch of one collage, newest first as ordered by the remote
func (self *CollageApi) GetPhotos(collageId Id, callback GetPhotosCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/collage/%s/photos", self.apiUrl, collageId),
		self.byJwt,
		&GetPhotosResult{},
		callback,
	)
}

func (self *CollageApi) GetPhotosSync(collageId Id) (*GetPhotosResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/collage/%s/photos", self.apiUrl, collageId),
		self.byJwt,
		&GetPhotosResult{},
		NewNoopApiCallback[*GetPhotosResult](),
	)
}

type GetPhotoCallback apiCallback[*GetPhotoResult]

type GetPhotoResult struct {
	Photo *Photo `json:"photo,omitempty"`
}

func (self *CollageApi) GetPhoto(photoId Id, callback GetPhotoCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/photo/%s", self.apiUrl, photoId),
		self.byJwt,
		&GetPhotoResult{},
		callback,
	)
}

func (self *CollageApi) GetPhotoSync(photoId Id) (*GetPhotoResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/photo/%s", self.apiUrl, photoId),
		self.byJwt,
		&GetPhotoResult{},
		NewNoopApiCallback[*GetPhotoResult](),
	)
}

type AddPhotoCallback apiCallback[*AddPhotoResult]

// photo-without-id. the remote assigns `photo_id` and `create_time`.
type AddPhotoArgs struct {
	CollageId  Id     `json:"collage_id"`
	Url        string `json:"url"`
	StorageKey string `json:"storage_key"`
}

type AddPhotoResult struct {
	Photo *Photo `json:"photo,omitempty"`
}

func (self *CollageApi) AddPhoto(addPhoto *AddPhotoArgs, callback AddPhotoCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/photo", self.apiUrl),
		addPhoto,
		self.byJwt,
		&AddPhotoResult{},
		callback,
	)
}

func (self *CollageApi) AddPhotoSync(addPhoto *AddPhotoArgs) (*AddPhotoResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/photo", self.apiUrl),
		addPhoto,
		self.byJwt,
		&AddPhotoResult{},
		NewNoopApiCallback[*AddPhotoResult](),
	)
}

type RemovePhotoCallback apiCallback[*RemovePhotoResult]

type RemovePhotoResult struct {
	PhotoId Id `json:"photo_id"`
}

func (self *CollageApi) RemovePhoto(photoId Id, callback RemovePhotoCallback) {
	go httpDelete(
		self.ctx,
		fmt.Sprintf("%s/photo/%s", self.apiUrl, photoId),
		self.byJwt,
		&RemovePhotoResult{},
		callback,
	)
}

func (self *CollageApi) RemovePhotoSync(photoId Id) (*RemovePhotoResult, error) {
	return httpDelete(
		self.ctx,
		fmt.Sprintf("%s/photo/%s", self.apiUrl, photoId),
		self.byJwt,
		&RemovePhotoResult{},
		NewNoopApiCallback[*RemovePhotoResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	return send(req, byJwt, result, callback)
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	return send(req, byJwt, result, callback)
}

func httpDelete[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return send(req, byJwt, result, callback)
}

func send[R any](req *http.Request, byJwt string, result R, callback apiCallback[R]) (R, error) {
	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusNotFound == r.StatusCode {
		callback.Result(result, ErrPhotoNotFound)
		return result, ErrPhotoNotFound
	}

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
