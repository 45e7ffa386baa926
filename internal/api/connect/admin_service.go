package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	zlog "github.com/rs/zerolog/log"
)

// AdminService implements the AdminService RPC.
type AdminService struct {
	station Station
}

// NewAdminService creates a new AdminService.
func NewAdminService(st Station) *AdminService {
	return &AdminService{station: st}
}

// NewAdminServiceHandler builds an HTTP handler from the service
// implementation. Every procedure requires the admin token.
func NewAdminServiceHandler(svc *AdminService, token string, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewAdminAuthInterceptor(token)),
	}, opts...)
	mux := http.NewServeMux()
	mux.Handle(AdminServiceGetStatusProcedure, connect.NewUnaryHandler(
		AdminServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(AdminServiceSkipProcedure, connect.NewUnaryHandler(
		AdminServiceSkipProcedure, svc.Skip, opts...))
	mux.Handle(AdminServiceBlacklistProcedure, connect.NewUnaryHandler(
		AdminServiceBlacklistProcedure, svc.Blacklist, opts...))
	mux.Handle(AdminServiceRefillProcedure, connect.NewUnaryHandler(
		AdminServiceRefillProcedure, svc.Refill, opts...))
	return "/" + AdminServiceName + "/", mux
}

// GetStatus returns the current station status.
func (s *AdminService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[GetStatusResponse], error) {
	status := s.station.Status()

	resp := &GetStatusResponse{
		State:       status.Playback.State.String(),
		PID:         status.Playback.PID,
		QueueSize:   status.QueueSize,
		ManualCount: status.ManualCount,
		Subscribers: status.Subscribers,
	}
	if status.Playback.Current != nil {
		info := toEntryInfo(*status.Playback.Current)
		resp.Current = &info
	}
	if !status.Playback.StartedAt.IsZero() {
		startedAt := status.Playback.StartedAt
		resp.StartedAt = &startedAt
	}

	return connect.NewResponse(resp), nil
}

// Skip skips the current track.
func (s *AdminService) Skip(
	ctx context.Context,
	req *connect.Request[SkipRequest],
) (*connect.Response[SkipResponse], error) {
	if err := s.station.Skip(); err != nil {
		return connect.NewResponse(&SkipResponse{
			Success: false,
			Message: err.Error(),
		}), nil
	}

	zlog.Info().Msg("admin skip")
	return connect.NewResponse(&SkipResponse{
		Success: true,
		Message: "Track skipped",
	}), nil
}

// Blacklist bans a track and removes it from the queue.
func (s *AdminService) Blacklist(
	ctx context.Context,
	req *connect.Request[BlacklistRequest],
) (*connect.Response[BlacklistResponse], error) {
	removed, err := s.station.Blacklist(ctx, req.Msg.TrackID, req.Msg.Reason)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&BlacklistResponse{Removed: removed}), nil
}

// Refill tops up the automated segment of the queue.
func (s *AdminService) Refill(
	ctx context.Context,
	req *connect.Request[RefillRequest],
) (*connect.Response[RefillResponse], error) {
	added, err := s.station.Refill(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RefillResponse{
		Added:     added,
		QueueSize: s.station.Status().QueueSize,
	}), nil
}
