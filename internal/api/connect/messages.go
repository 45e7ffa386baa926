package connect

import (
	"time"

	"github.com/osa030/chanson/internal/app/notification"
	"github.com/osa030/chanson/internal/domain/track"
)

// Service and procedure names.
const (
	ListenerServiceName = "chanson.v1.ListenerService"
	AdminServiceName    = "chanson.v1.AdminService"

	ListenerServiceRequestTrackProcedure    = "/" + ListenerServiceName + "/RequestTrack"
	ListenerServiceRequestPlaylistProcedure = "/" + ListenerServiceName + "/RequestPlaylist"
	ListenerServiceGetQueueProcedure        = "/" + ListenerServiceName + "/GetQueue"
	ListenerServiceWatchQueueProcedure      = "/" + ListenerServiceName + "/WatchQueue"

	AdminServiceGetStatusProcedure = "/" + AdminServiceName + "/GetStatus"
	AdminServiceSkipProcedure      = "/" + AdminServiceName + "/Skip"
	AdminServiceBlacklistProcedure = "/" + AdminServiceName + "/Blacklist"
	AdminServiceRefillProcedure    = "/" + AdminServiceName + "/Refill"
)

// TrackInfo describes a track.
type TrackInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	CoverURL   string `json:"coverUrl,omitempty"`
	URL        string `json:"url,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// EntryInfo describes one queued entry.
type EntryInfo struct {
	EntryID       string    `json:"entryId"`
	Track         TrackInfo `json:"track"`
	Origin        string    `json:"origin"`
	RequesterID   string    `json:"requesterId,omitempty"`
	RequesterName string    `json:"requesterName,omitempty"`
	AddedAt       time.Time `json:"addedAt"`
}

// RequestTrackRequest asks for a track by URL, ID or free-text query.
type RequestTrackRequest struct {
	Query          string `json:"query"`
	RequesterID    string `json:"requesterId"`
	RequesterName  string `json:"requesterName,omitempty"`
	ExternalUserID string `json:"externalUserId,omitempty"`
}

// RequestTrackResponse reports the outcome of a request.
type RequestTrackResponse struct {
	Accepted bool       `json:"accepted"`
	Code     string     `json:"code"`
	Message  string     `json:"message"`
	Position int        `json:"position,omitempty"`
	Count    int        `json:"count,omitempty"`
	Track    *TrackInfo `json:"track,omitempty"`
}

// RequestPlaylistRequest asks for every track of a playlist.
type RequestPlaylistRequest = RequestTrackRequest

// RequestPlaylistResponse reports the outcome of a playlist request.
type RequestPlaylistResponse = RequestTrackResponse

type GetQueueRequest struct{}

type GetQueueResponse struct {
	Entries []EntryInfo `json:"entries"`
}

type WatchQueueRequest struct{}

// QueueEvent is one message of the WatchQueue stream. The first message is
// the current queue with SequenceNo 0.
type QueueEvent struct {
	Type       string      `json:"type"`
	SequenceNo uint64      `json:"sequenceNo"`
	Timestamp  time.Time   `json:"timestamp"`
	Entries    []EntryInfo `json:"entries,omitempty"`
	Entry      *EntryInfo  `json:"entry,omitempty"`
	Message    string      `json:"message,omitempty"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	State       string     `json:"state"`
	Current     *EntryInfo `json:"current,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	PID         int        `json:"pid,omitempty"`
	QueueSize   int        `json:"queueSize"`
	ManualCount int        `json:"manualCount"`
	Subscribers int        `json:"subscribers"`
}

type SkipRequest struct{}

type SkipResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BlacklistRequest bans a track. An empty TrackID means the current track.
type BlacklistRequest struct {
	TrackID string `json:"trackId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type BlacklistResponse struct {
	Removed int `json:"removed"`
}

type RefillRequest struct{}

type RefillResponse struct {
	Added     int `json:"added"`
	QueueSize int `json:"queueSize"`
}

func toTrackInfo(t track.Track) TrackInfo {
	return TrackInfo{
		ID:         t.ID,
		Title:      t.Metadata.Title,
		Artist:     t.Metadata.Artist,
		Album:      t.Metadata.Album,
		CoverURL:   t.Metadata.CoverURL,
		URL:        t.URL,
		DurationMs: t.Duration.Milliseconds(),
	}
}

func toEntryInfo(e track.Entry) EntryInfo {
	info := EntryInfo{
		EntryID: e.ID,
		Track:   toTrackInfo(e.Track),
		Origin:  string(e.Origin),
		AddedAt: e.AddedAt,
	}
	if e.Requester != nil {
		info.RequesterID = e.Requester.ID
		info.RequesterName = e.Requester.Name
	}
	return info
}

func toEntryInfos(entries []track.Entry) []EntryInfo {
	infos := make([]EntryInfo, len(entries))
	for i, e := range entries {
		infos[i] = toEntryInfo(e)
	}
	return infos
}

func toQueueEvent(n *notification.Notification) *QueueEvent {
	ev := &QueueEvent{
		Type:       string(n.Type),
		SequenceNo: n.SequenceNo,
		Timestamp:  n.Timestamp,
		Message:    n.Message,
	}
	if n.Queue != nil {
		ev.Entries = toEntryInfos(n.Queue)
	}
	if n.Entry != nil {
		info := toEntryInfo(*n.Entry)
		ev.Entry = &info
	}
	return ev
}
