package timeservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// PeerReference asks another coordinator's TimeService for the current instant.
// It satisfies timesource.Reference.
type PeerReference struct {
	name   string
	client *connect.Client[emptypb.Empty, timestamppb.Timestamp]
}

// NewPeerReference creates a reference for the coordinator at baseURL
func NewPeerReference(name, baseURL string, httpClient connect.HTTPClient, opts ...connect.ClientOption) *PeerReference {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	url := strings.TrimSuffix(baseURL, "/") + NowProcedure
	return &PeerReference{
		name:   name,
		client: connect.NewClient[emptypb.Empty, timestamppb.Timestamp](httpClient, url, opts...),
	}
}

func (p *PeerReference) Name() string { return p.name }

func (p *PeerReference) Query(ctx context.Context) (time.Time, error) {
	resp, err := p.client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return time.Time{}, fmt.Errorf("peer %s: %w", p.name, err)
	}
	if err := resp.Msg.CheckValid(); err != nil {
		return time.Time{}, fmt.Errorf("peer %s returned invalid timestamp: %w", p.name, err)
	}
	return resp.Msg.AsTime(), nil
}
