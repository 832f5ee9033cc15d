package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/collagelabs/collage/collage"
)

const CollageCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collage control.

The default urls are:
    api_url: https://api.collage.pics
    storage_url: https://storage.collage.pics
    channel_url: wss://channel.collage.pics

Usage:
    collagectl login [--api_url=<api_url>] --user_auth=<user_auth>
    collagectl whoami --jwt=<jwt>
    collagectl list [--api_url=<api_url>] --jwt=<jwt>
        --collage=<collage_id>
    collagectl watch [--api_url=<api_url>] [--storage_url=<storage_url>]
        [--channel_url=<channel_url>] --jwt=<jwt>
        --collage=<collage_id>
    collagectl upload [--api_url=<api_url>] [--storage_url=<storage_url>] --jwt=<jwt>
        --collage=<collage_id>
        <file>
    collagectl delete [--api_url=<api_url>] [--storage_url=<storage_url>] --jwt=<jwt>
        <photo_id>

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --api_url=<api_url>
    --storage_url=<storage_url>
    --channel_url=<channel_url>
    --user_auth=<user_auth>    Email or phone number.
    --jwt=<jwt>                Your viewer JWT.
    --collage=<collage_id>`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollageCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(opts)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if upload_, _ := opts.Bool("upload"); upload_ {
		upload(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deletePhoto(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	return "https://api.collage.pics"
}

func storageUrl(opts docopt.Opts) string {
	if storageUrl, err := opts.String("--storage_url"); err == nil && storageUrl != "" {
		return storageUrl
	}
	return "https://storage.collage.pics"
}

func channelUrl(opts docopt.Opts) string {
	if channelUrl, err := opts.String("--channel_url"); err == nil && channelUrl != "" {
		return channelUrl
	}
	return "wss://channel.collage.pics"
}

func auth(opts docopt.Opts) *collage.ViewerAuth {
	jwt, _ := opts.String("--jwt")
	return &collage.ViewerAuth{
		ByJwt:      jwt,
		InstanceId: collage.NewId(),
		AppVersion: fmt.Sprintf("collagectl %s", CollageCtlVersion),
	}
}

func newClient(ctx context.Context, opts docopt.Opts) *collage.CollageClient {
	return collage.NewCollageClientWithDefaults(
		ctx,
		apiUrl(opts),
		storageUrl(opts),
		channelUrl(opts),
		auth(opts),
	)
}

func login(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")

	fmt.Fprintf(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintf(os.Stderr, "\n")
	if err != nil {
		Err.Printf("Could not read password (%s).\n", err)
		os.Exit(1)
	}

	api := collage.NewCollageApi(apiUrl(opts))
	defer api.Close()

	result, err := api.AuthViewerSync(&collage.AuthViewerArgs{
		UserAuth: userAuth,
		Password: string(passwordBytes),
	})
	if err != nil {
		Err.Printf("Login error (%s).\n", err)
		os.Exit(1)
	}
	if result.Error != nil {
		Err.Printf("Login error (%s).\n", result.Error.Message)
		os.Exit(1)
	}

	Out.Printf("%s", result.ByJwt)
}

func whoami(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")

	viewerJwt, err := collage.ParseViewerJwtUnverified(jwt)
	if err != nil {
		Err.Printf("Invalid jwt (%s).\n", err)
		os.Exit(1)
	}

	Out.Printf("user_id: %s", viewerJwt.UserId)
	Out.Printf("user_name: %s", viewerJwt.UserName)
	Out.Printf("client_id: %s", viewerJwt.ClientId)
}

func list(opts docopt.Opts) {
	collageIdStr, _ := opts.String("--collage")
	collageId, err := collage.ParseId(collageIdStr)
	if err != nil {
		Err.Printf("Invalid collage_id (%s).\n", err)
		os.Exit(1)
	}

	jwt, _ := opts.String("--jwt")
	api := collage.NewCollageApi(apiUrl(opts))
	api.SetByJwt(jwt)
	defer api.Close()

	result, err := api.GetPhotosSync(collageId)
	if err != nil {
		Err.Printf("List error (%s).\n", err)
		os.Exit(1)
	}

	for _, photo := range result.Photos {
		Out.Printf("%s %s %s", photo.PhotoId, photo.CreateTime.Format("2006-01-02 15:04:05"), photo.Url)
	}
}

func watch(opts docopt.Opts) {
	collageIdStr, _ := opts.String("--collage")
	collageId, err := collage.ParseId(collageIdStr)
	if err != nil {
		Err.Printf("Invalid collage_id (%s).\n", err)
		os.Exit(1)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newClient(cancelCtx, opts)
	defer client.Close()

	client.AddConnectionStateCallback(func(state collage.ConnectionState) {
		Out.Printf("connection: connected=%t polling=%t", state.Connected, state.Polling)
	})
	client.AddChangeCallback(func() {
		snapshot := client.GetSnapshot()
		Out.Printf("photos (%d):", len(snapshot))
		for _, photo := range snapshot {
			Out.Printf("  %s %s", photo.PhotoId, photo.Url)
		}
	})

	client.Watch(collageId)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}

func upload(opts docopt.Opts) {
	collageIdStr, _ := opts.String("--collage")
	collageId, err := collage.ParseId(collageIdStr)
	if err != nil {
		Err.Printf("Invalid collage_id (%s).\n", err)
		os.Exit(1)
	}

	path, _ := opts.String("<file>")
	data, err := os.ReadFile(path)
	if err != nil {
		Err.Printf("Could not read file (%s).\n", err)
		os.Exit(1)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newClient(cancelCtx, opts)
	defer client.Close()

	photo, err := client.UploadSync(&collage.PhotoUpload{
		CollageId: collageId,
		Name:      filepath.Base(path),
		MimeType:  http.DetectContentType(data),
		Data:      data,
	})
	if err != nil {
		Err.Printf("Upload error (%s).\n", err)
		os.Exit(1)
	}

	Out.Printf("%s %s", photo.PhotoId, photo.Url)
}

func deletePhoto(opts docopt.Opts) {
	photoIdStr, _ := opts.String("<photo_id>")
	photoId, err := collage.ParseId(photoIdStr)
	if err != nil {
		Err.Printf("Invalid photo_id (%s).\n", err)
		os.Exit(1)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newClient(cancelCtx, opts)
	defer client.Close()

	if err := client.DeleteSync(photoId); err != nil {
		Err.Printf("Delete error (%s).\n", err)
		os.Exit(1)
	}

	Out.Printf("deleted %s", photoId)
}
