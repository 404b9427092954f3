package timeservice

import (
	"context"
	"encoding/json"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/syncplay/go/clients/worldtime_client"
	"github.com/mcdev12/syncplay/go/internal/timesource"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	// ServiceName is the fully-qualified name of the time service
	ServiceName = "syncplay.time.v1.TimeService"
	// NowProcedure is the connect procedure path for TimeService.Now
	NowProcedure = "/" + ServiceName + "/Now"
	// TimePath serves the worldtime-shaped JSON view of the same clock
	TimePath = "/api/time"

	// OriginHeader carries the reading origin on connect responses
	OriginHeader = "Syncplay-Time-Origin"
)

// AuthoritativeClock is satisfied by *timesource.Source
type AuthoritativeClock interface {
	Now(ctx context.Context) timesource.Reading
}

// Service exposes the coordinator's authoritative clock to other coordinators
type Service struct {
	clock AuthoritativeClock
}

func NewService(clock AuthoritativeClock) *Service {
	return &Service{clock: clock}
}

// Now answers TimeService.Now
func (s *Service) Now(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[timestamppb.Timestamp], error) {
	reading := s.clock.Now(ctx)

	resp := connect.NewResponse(timestamppb.New(reading.Instant))
	resp.Header().Set(OriginHeader, reading.Origin)
	return resp, nil
}

// NewHandler returns the connect handler for TimeService.Now and its mount path
func (s *Service) NewHandler(opts ...connect.HandlerOption) (string, http.Handler) {
	return NowProcedure, connect.NewUnaryHandler(NowProcedure, s.Now, opts...)
}

// HandleTime handles GET /api/time
func (s *Service) HandleTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reading := s.clock.Now(r.Context())
	instant := reading.Instant.UTC()

	response := worldtime_client.TimeResponse{
		UTCDatetime: instant.Format("2006-01-02T15:04:05.000000Z07:00"),
		Unixtime:    instant.Unix(),
		UnixtimeMs:  instant.UnixMilli(),
		Timezone:    "Etc/UTC",
		Origin:      reading.Origin,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode time response")
	}
}

// RegisterRoutes mounts both views of the clock on the mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(s.NewHandler())
	mux.HandleFunc(TimePath, s.HandleTime)
}
