// Package main provides the user CLI entry point for testing.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/chanson/internal/api/connect"
)

var (
	app    = kingpin.New("chanson-usercli", "chanson radio station user client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("CHANSON_SERVER").String()
	name   = app.Flag("name", "Requester display name").Default("cli").String()
	userID = app.Flag("user-id", "Requester ID (default: the display name)").String()

	// request command
	requestCmd   = app.Command("request", "Request a track")
	requestQuery = requestCmd.Arg("query", "Track URL, ID or search text").Required().String()

	// playlist command
	playlistCmd = app.Command("playlist", "Request every track of a playlist")
	playlistURL = playlistCmd.Arg("url", "Playlist URL or ID").Required().String()

	// queue command
	queueCmd = app.Command("queue", "Show the queue")

	// watch command
	watchCmd = app.Command("watch", "Watch queue notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewListenerClient(http.DefaultClient, *server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case requestCmd.FullCommand():
		err = request(ctx, client, *requestQuery, false)
	case playlistCmd.FullCommand():
		err = request(ctx, client, *playlistURL, true)
	case queueCmd.FullCommand():
		err = showQueue(ctx, client)
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func request(ctx context.Context, client *apiconnect.ListenerClient, query string, playlist bool) error {
	req := &apiconnect.RequestTrackRequest{
		Query:         query,
		RequesterID:   *userID,
		RequesterName: *name,
	}

	var resp *apiconnect.RequestTrackResponse
	var err error
	if playlist {
		resp, err = client.RequestPlaylist(ctx, req)
	} else {
		resp, err = client.RequestTrack(ctx, req)
	}
	if err != nil {
		return err
	}

	if resp.Accepted {
		fmt.Printf("Success: %s\n", resp.Message)
	} else {
		fmt.Printf("Rejected [%s]: %s\n", resp.Code, resp.Message)
	}
	return nil
}

func showQueue(ctx context.Context, client *apiconnect.ListenerClient) error {
	entries, err := client.GetQueue(ctx)
	if err != nil {
		return err
	}
	printQueue(entries)
	return nil
}

func printQueue(entries []apiconnect.EntryInfo) {
	fmt.Printf("Queue (%d):\n", len(entries))
	for i, e := range entries {
		by := ""
		if e.RequesterName != "" {
			by = " requested by " + e.RequesterName
		}
		fmt.Printf("  %2d. %s - %s [%s]%s\n", i+1, e.Track.Title, e.Track.Artist, e.Origin, by)
	}
}

func watch(ctx context.Context, client *apiconnect.ListenerClient) error {
	stream, err := client.WatchQueue(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Watching queue. Press Ctrl+C to exit.")

	for stream.Receive() {
		printEvent(stream.Msg())
	}

	if ctx.Err() != nil {
		fmt.Println("\nStopped watching.")
		return nil
	}
	return stream.Err()
}

func printEvent(ev *apiconnect.QueueEvent) {
	fmt.Printf("\n[Sequence: %d] === %s ===\n", ev.SequenceNo, ev.Type)
	if ev.Message != "" {
		fmt.Println(ev.Message)
	}
	if ev.Entry != nil {
		fmt.Printf("  %s - %s (%s)\n", ev.Entry.Track.Title, ev.Entry.Track.Artist, ev.Entry.Track.ID)
	}
	if ev.Entries != nil {
		printQueue(ev.Entries)
	}
}
