package collage

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func expectChange(t *testing.T, changes chan struct{}) {
	t.Helper()
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for store change")
	}
}

func newTestClient(ctx context.Context, remote *testRemote, channel *testChannel) *CollageClient {
	settings := DefaultCollageClientSettings()
	settings.SupervisorSettings = testSupervisorSettings()
	return NewCollageClient(
		ctx,
		remote.apiUrl(),
		remote.storageUrl(),
		channel.url(),
		testAuth(),
		settings,
	)
}

func TestClientWatchPopulates(t *testing.T) {
	remote := newTestRemote()
	defer remote.Close()
	channel := newTestChannel()
	defer channel.Close()

	collageId := NewId()
	a := remote.addPhoto(collageId, "https://storage.test/a.jpg", "a.jpg")
	b := remote.addPhoto(collageId, "https://storage.test/b.jpg", "b.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ctx, remote, channel)
	defer client.Close()

	client.Watch(collageId)

	// initial fetch, newest first
	assert.Equal(t, waitFor(5*time.Second, func() bool {
		snapshot := client.GetSnapshot()
		return len(snapshot) == 2 &&
			snapshot[0].PhotoId == b.PhotoId &&
			snapshot[1].PhotoId == a.PhotoId
	}), true)
}

func TestClientUploadDelete(t *testing.T) {
	remote := newTestRemote()
	defer remote.Close()
	channel := newTestChannel()
	defer channel.Close()

	collageId := NewId()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ctx, remote, channel)
	defer client.Close()

	changes := make(chan struct{}, 16)
	removeCallback := client.AddChangeCallback(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer removeCallback()

	client.Watch(collageId)

	// wait out the clearing replace and the initial fetch so they
	// cannot land after the upload below
	expectChange(t, changes)
	expectChange(t, changes)

	photo, err := client.UploadSync(testUpload(collageId))
	assert.Equal(t, err, nil)
	assert.Equal(t, photo.CollageId, collageId)

	snapshot := client.GetSnapshot()
	assert.Equal(t, len(snapshot), 1)
	assert.Equal(t, snapshot[0].PhotoId, photo.PhotoId)

	err = client.DeleteSync(photo.PhotoId)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(client.GetSnapshot()), 0)
	assert.Equal(t, remote.photoCount(), 0)
	assert.Equal(t, remote.objectCount(), 0)
}

func TestClientSwitchCollage(t *testing.T) {
	remote := newTestRemote()
	defer remote.Close()
	channel := newTestChannel()
	defer channel.Close()

	firstCollageId := NewId()
	secondCollageId := NewId()
	remote.addPhoto(firstCollageId, "https://storage.test/a.jpg", "a.jpg")
	b := remote.addPhoto(secondCollageId, "https://storage.test/b.jpg", "b.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ctx, remote, channel)
	defer client.Close()

	client.Watch(firstCollageId)
	assert.Equal(t, waitFor(5*time.Second, func() bool {
		return len(client.GetSnapshot()) == 1
	}), true)

	// no stale records from the old collage show through
	client.Watch(secondCollageId)
	assert.Equal(t, waitFor(5*time.Second, func() bool {
		snapshot := client.GetSnapshot()
		return len(snapshot) == 1 && snapshot[0].PhotoId == b.PhotoId
	}), true)
}

func TestClientConnectionState(t *testing.T) {
	remote := newTestRemote()
	defer remote.Close()
	channel := newTestChannel()
	defer channel.Close()

	channel.setRefuse(true)

	collageId := NewId()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ctx, remote, channel)
	defer client.Close()

	client.Watch(collageId)

	assert.Equal(t, waitFor(5*time.Second, func() bool {
		state := client.ConnectionState()
		return !state.Connected && state.Polling
	}), true)

	channel.setRefuse(false)
	assert.Equal(t, waitFor(5*time.Second, func() bool {
		state := client.ConnectionState()
		return state.Connected && !state.Polling
	}), true)
}

func TestClientChangeCallback(t *testing.T) {
	remote := newTestRemote()
	defer remote.Close()
	channel := newTestChannel()
	defer channel.Close()

	collageId := NewId()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ctx, remote, channel)
	defer client.Close()

	changes := make(chan struct{}, 16)
	removeCallback := client.AddChangeCallback(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer removeCallback()

	client.Watch(collageId)

	_, err := client.UploadSync(testUpload(collageId))
	assert.Equal(t, err, nil)

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for store change")
	}
}

func TestClientSwitchDuringInitialFetch(t *testing.T) {
	remote := newTestRemote()
	defer remote.Close()
	channel := newTestChannel()
	defer channel.Close()

	firstCollageId := NewId()
	secondCollageId := NewId()
	remote.addPhoto(firstCollageId, "https://storage.test/a.jpg", "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ctx, remote, channel)
	defer client.Close()

	remote.setFail(func(r *testRemote) { r.fetchDelay = 200 * time.Millisecond })

	// switch away while the first collage's initial fetch is in
	// flight. the fetch result lands after the switch and must be
	// discarded, never applied to the new collage.
	client.Watch(firstCollageId)
	time.Sleep(50 * time.Millisecond)
	client.Watch(secondCollageId)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, len(client.GetSnapshot()), 0)
}
