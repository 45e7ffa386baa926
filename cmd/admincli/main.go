// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/chanson/internal/api/connect"
)

var (
	app     = kingpin.New("chanson-admincli", "chanson radio station admin client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("CHANSON_SERVER").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("30s").Duration()

	// status command
	statusCmd = app.Command("status", "Get station status")

	// skip command
	skipCmd = app.Command("skip", "Skip the current track")

	// blacklist command
	blacklistCmd    = app.Command("blacklist", "Blacklist a track and remove it from the queue")
	blacklistTrack  = blacklistCmd.Arg("track-id", "Track ID (default: the current track)").String()
	blacklistReason = blacklistCmd.Flag("reason", "Reason recorded with the blacklist entry").Short('r').String()

	// refill command
	refillCmd = app.Command("refill", "Top up the queue with automated tracks")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminClient(http.DefaultClient, *server, *token)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case skipCmd.FullCommand():
		err = skip(ctx, client)
	case blacklistCmd.FullCommand():
		err = blacklist(ctx, client, *blacklistTrack, *blacklistReason)
	case refillCmd.FullCommand():
		err = refill(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func status(ctx context.Context, client *apiconnect.AdminClient) error {
	s, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n=== STATION STATUS ===")
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Queue Size: %d (manual: %d)\n", s.QueueSize, s.ManualCount)
	fmt.Printf("Subscribers: %d\n", s.Subscribers)

	if s.Current != nil {
		fmt.Println("\nCurrently Playing:")
		printEntry(s.Current)
		if s.StartedAt != nil {
			fmt.Printf("  Started: %s (%s ago)\n", s.StartedAt.Format(time.RFC3339), time.Since(*s.StartedAt).Truncate(time.Second))
		}
		if s.PID != 0 {
			fmt.Printf("  PID: %d\n", s.PID)
		}
	} else {
		fmt.Println("\nNo track currently playing")
	}
	fmt.Println()
	return nil
}

func printEntry(e *apiconnect.EntryInfo) {
	fmt.Printf("  Track ID: %s\n", e.Track.ID)
	fmt.Printf("  Title: %s\n", e.Track.Title)
	fmt.Printf("  Artist: %s\n", e.Track.Artist)
	if e.Track.Album != "" {
		fmt.Printf("  Album: %s\n", e.Track.Album)
	}
	if e.Track.URL != "" {
		fmt.Printf("  URL: %s\n", e.Track.URL)
	}
	fmt.Printf("  Origin: %s\n", e.Origin)
	if e.RequesterName != "" {
		fmt.Printf("  Requested by: %s\n", e.RequesterName)
	}
}

func skip(ctx context.Context, client *apiconnect.AdminClient) error {
	resp, err := client.Skip(ctx)
	if err != nil {
		return err
	}

	if resp.Success {
		fmt.Println("Track skipped")
	} else {
		fmt.Printf("Failed: %s\n", resp.Message)
	}
	return nil
}

func blacklist(ctx context.Context, client *apiconnect.AdminClient, trackID, reason string) error {
	removed, err := client.Blacklist(ctx, trackID, reason)
	if err != nil {
		return err
	}

	target := trackID
	if target == "" {
		target = "current track"
	}
	fmt.Printf("Blacklisted %s (removed %d queued entries)\n", target, removed)
	return nil
}

func refill(ctx context.Context, client *apiconnect.AdminClient) error {
	resp, err := client.Refill(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Added %d tracks (queue size: %d)\n", resp.Added, resp.QueueSize)
	return nil
}
