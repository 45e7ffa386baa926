package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/app/notification"
	"github.com/osa030/chanson/internal/app/station"
	"github.com/osa030/chanson/internal/domain/track"
)

// Station is the station surface used by the RPC services.
type Station interface {
	RequestTrack(ctx context.Context, query string, requester track.Requester) (station.Result, error)
	RequestPlaylist(ctx context.Context, query string, requester track.Requester) (station.Result, error)
	Queue() []track.Entry
	Status() station.Status
	Skip() error
	Blacklist(ctx context.Context, trackID, reason string) (int, error)
	Refill(ctx context.Context) (int, error)
	NotificationManager() *notification.Manager
}

// ListenerService implements the ListenerService RPC.
type ListenerService struct {
	station Station
}

// NewListenerService creates a new ListenerService.
func NewListenerService(st Station) *ListenerService {
	return &ListenerService{station: st}
}

// NewListenerServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler.
func NewListenerServiceHandler(svc *ListenerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(ListenerServiceRequestTrackProcedure, connect.NewUnaryHandler(
		ListenerServiceRequestTrackProcedure, svc.RequestTrack, opts...))
	mux.Handle(ListenerServiceRequestPlaylistProcedure, connect.NewUnaryHandler(
		ListenerServiceRequestPlaylistProcedure, svc.RequestPlaylist, opts...))
	mux.Handle(ListenerServiceGetQueueProcedure, connect.NewUnaryHandler(
		ListenerServiceGetQueueProcedure, svc.GetQueue, opts...))
	mux.Handle(ListenerServiceWatchQueueProcedure, connect.NewServerStreamHandler(
		ListenerServiceWatchQueueProcedure, svc.WatchQueue, opts...))
	return "/" + ListenerServiceName + "/", mux
}

// RequestTrack handles track request submissions.
func (s *ListenerService) RequestTrack(
	ctx context.Context,
	req *connect.Request[RequestTrackRequest],
) (*connect.Response[RequestTrackResponse], error) {
	res, err := s.station.RequestTrack(ctx, req.Msg.Query, requesterFrom(req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toRequestResponse(res)), nil
}

// RequestPlaylist handles playlist request submissions.
func (s *ListenerService) RequestPlaylist(
	ctx context.Context,
	req *connect.Request[RequestPlaylistRequest],
) (*connect.Response[RequestPlaylistResponse], error) {
	res, err := s.station.RequestPlaylist(ctx, req.Msg.Query, requesterFrom(req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toRequestResponse(res)), nil
}

// GetQueue returns the current queue, head first.
func (s *ListenerService) GetQueue(
	ctx context.Context,
	req *connect.Request[GetQueueRequest],
) (*connect.Response[GetQueueResponse], error) {
	return connect.NewResponse(&GetQueueResponse{
		Entries: toEntryInfos(s.station.Queue()),
	}), nil
}

// WatchQueue streams the current queue followed by every notification until
// the client disconnects.
func (s *ListenerService) WatchQueue(
	ctx context.Context,
	req *connect.Request[WatchQueueRequest],
	stream *connect.ServerStream[QueueEvent],
) error {
	adapter := &queueStreamAdapter{stream: stream}

	// Subscribe before the initial snapshot so no change is missed in between.
	manager := s.station.NotificationManager()
	subscriptionID := manager.Subscribe(adapter)
	defer manager.Unsubscribe(subscriptionID)

	initial := &QueueEvent{
		Type:      string(notification.TypeQueueUpdated),
		Timestamp: time.Now(),
		Entries:   toEntryInfos(s.station.Queue()),
	}
	if err := adapter.send(initial); err != nil {
		return err
	}

	zlog.Debug().Msgf("queue watcher subscribed: subscription=%s", subscriptionID)
	<-ctx.Done()
	zlog.Debug().Msgf("queue watcher unsubscribed: subscription=%s", subscriptionID)
	return nil
}

// queueStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized; the manager may overlap them after a timeout.
type queueStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[QueueEvent]
}

func (a *queueStreamAdapter) Send(n *notification.Notification) error {
	return a.send(toQueueEvent(n))
}

func (a *queueStreamAdapter) send(ev *QueueEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(ev)
}

// requesterFrom derives the requester. The ID falls back to the external
// user ID and then to the display name.
func requesterFrom(msg *RequestTrackRequest) track.Requester {
	r := track.Requester{
		ID:             msg.RequesterID,
		Name:           msg.RequesterName,
		ExternalUserID: msg.ExternalUserID,
	}
	if r.ID == "" {
		r.ID = r.ExternalUserID
	}
	if r.ID == "" {
		r.ID = r.Name
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	return r
}

func toRequestResponse(res station.Result) *RequestTrackResponse {
	resp := &RequestTrackResponse{
		Accepted: res.Accepted,
		Code:     res.Code,
		Message:  res.Message,
		Position: res.Position,
		Count:    res.Count,
	}
	if res.Track.ID != "" {
		info := toTrackInfo(res.Track)
		resp.Track = &info
	}
	return resp
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, station.ErrInvalidRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, station.ErrNoCurrentTrack):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
