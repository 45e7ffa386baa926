package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// ListenerClient is a client for the ListenerService.
type ListenerClient struct {
	requestTrack    *connect.Client[RequestTrackRequest, RequestTrackResponse]
	requestPlaylist *connect.Client[RequestPlaylistRequest, RequestPlaylistResponse]
	getQueue        *connect.Client[GetQueueRequest, GetQueueResponse]
	watchQueue      *connect.Client[WatchQueueRequest, QueueEvent]
}

// NewListenerClient creates a ListenerService client for baseURL.
func NewListenerClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ListenerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &ListenerClient{
		requestTrack: connect.NewClient[RequestTrackRequest, RequestTrackResponse](
			httpClient, baseURL+ListenerServiceRequestTrackProcedure, opts...),
		requestPlaylist: connect.NewClient[RequestPlaylistRequest, RequestPlaylistResponse](
			httpClient, baseURL+ListenerServiceRequestPlaylistProcedure, opts...),
		getQueue: connect.NewClient[GetQueueRequest, GetQueueResponse](
			httpClient, baseURL+ListenerServiceGetQueueProcedure, opts...),
		watchQueue: connect.NewClient[WatchQueueRequest, QueueEvent](
			httpClient, baseURL+ListenerServiceWatchQueueProcedure, opts...),
	}
}

// RequestTrack calls ListenerService.RequestTrack.
func (c *ListenerClient) RequestTrack(ctx context.Context, req *RequestTrackRequest) (*RequestTrackResponse, error) {
	resp, err := c.requestTrack.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// RequestPlaylist calls ListenerService.RequestPlaylist.
func (c *ListenerClient) RequestPlaylist(ctx context.Context, req *RequestPlaylistRequest) (*RequestPlaylistResponse, error) {
	resp, err := c.requestPlaylist.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetQueue calls ListenerService.GetQueue.
func (c *ListenerClient) GetQueue(ctx context.Context) ([]EntryInfo, error) {
	resp, err := c.getQueue.CallUnary(ctx, connect.NewRequest(&GetQueueRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Entries, nil
}

// WatchQueue calls ListenerService.WatchQueue. The caller must close the stream.
func (c *ListenerClient) WatchQueue(ctx context.Context) (*connect.ServerStreamForClient[QueueEvent], error) {
	return c.watchQueue.CallServerStream(ctx, connect.NewRequest(&WatchQueueRequest{}))
}

// AdminClient is a client for the AdminService.
type AdminClient struct {
	getStatus *connect.Client[GetStatusRequest, GetStatusResponse]
	skip      *connect.Client[SkipRequest, SkipResponse]
	blacklist *connect.Client[BlacklistRequest, BlacklistResponse]
	refill    *connect.Client[RefillRequest, RefillResponse]
}

// NewAdminClient creates an AdminService client that sends token with every call.
func NewAdminClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewAdminTokenInterceptor(token)),
	}, opts...)
	return &AdminClient{
		getStatus: connect.NewClient[GetStatusRequest, GetStatusResponse](
			httpClient, baseURL+AdminServiceGetStatusProcedure, opts...),
		skip: connect.NewClient[SkipRequest, SkipResponse](
			httpClient, baseURL+AdminServiceSkipProcedure, opts...),
		blacklist: connect.NewClient[BlacklistRequest, BlacklistResponse](
			httpClient, baseURL+AdminServiceBlacklistProcedure, opts...),
		refill: connect.NewClient[RefillRequest, RefillResponse](
			httpClient, baseURL+AdminServiceRefillProcedure, opts...),
	}
}

// GetStatus calls AdminService.GetStatus.
func (c *AdminClient) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&GetStatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Skip calls AdminService.Skip.
func (c *AdminClient) Skip(ctx context.Context) (*SkipResponse, error) {
	resp, err := c.skip.CallUnary(ctx, connect.NewRequest(&SkipRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Blacklist calls AdminService.Blacklist.
func (c *AdminClient) Blacklist(ctx context.Context, trackID, reason string) (int, error) {
	resp, err := c.blacklist.CallUnary(ctx, connect.NewRequest(&BlacklistRequest{TrackID: trackID, Reason: reason}))
	if err != nil {
		return 0, err
	}
	return resp.Msg.Removed, nil
}

// Refill calls AdminService.Refill.
func (c *AdminClient) Refill(ctx context.Context) (*RefillResponse, error) {
	resp, err := c.refill.CallUnary(ctx, connect.NewRequest(&RefillRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
