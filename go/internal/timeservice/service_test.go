package timeservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/mcdev12/syncplay/go/clients/worldtime_client"
	"github.com/mcdev12/syncplay/go/internal/timesource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
)

type fixedClock struct {
	reading timesource.Reading
}

func (c fixedClock) Now(ctx context.Context) timesource.Reading { return c.reading }

func newTestServer(t *testing.T, reading timesource.Reading) *httptest.Server {
	mux := http.NewServeMux()
	NewService(fixedClock{reading: reading}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPeerReferenceReadsRemoteClock(t *testing.T) {
	at := time.Date(2026, 7, 1, 9, 0, 0, 123456789, time.UTC)
	srv := newTestServer(t, timesource.Reading{Instant: at, Origin: "ntp-pool"})

	ref := NewPeerReference("peer-a", srv.URL, srv.Client())
	got, err := ref.Query(context.Background())
	require.NoError(t, err)
	assert.True(t, at.Equal(got), "got %s", got)
	assert.Equal(t, "peer-a", ref.Name())
}

func TestNowSetsOriginHeader(t *testing.T) {
	at := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	srv := newTestServer(t, timesource.Reading{Instant: at, Origin: "redis"})

	ref := NewPeerReference("peer", srv.URL+"/", srv.Client())
	resp, err := ref.client.CallUnary(context.Background(), connect.NewRequest(&emptypb.Empty{}))
	require.NoError(t, err)
	assert.Equal(t, "redis", resp.Header().Get(OriginHeader))
}

func TestPeerReferenceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewPeerReference("gone", srv.URL, nil).Query(context.Background())
	assert.Error(t, err)
}

func TestHandleTimeServesWorldTimeShape(t *testing.T) {
	at := time.Date(2026, 7, 1, 9, 0, 0, 250_000_000, time.UTC)
	srv := newTestServer(t, timesource.Reading{Instant: at, Origin: "local"})

	got, err := worldtime_client.NewWorldTimeClient(srv.URL).WithEndpoint(TimePath).CurrentTime(context.Background())
	require.NoError(t, err)
	assert.True(t, at.Equal(got), "got %s", got)
}

func TestHandleTimeRejectsPost(t *testing.T) {
	srv := newTestServer(t, timesource.Reading{Instant: time.Now(), Origin: "local"})

	resp, err := srv.Client().Post(srv.URL+TimePath, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
