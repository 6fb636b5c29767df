package httpapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// pollingSync returns an empty delta a few times before producing one, the
// way a live subscriber sees the store between mutations.
type pollingSync struct {
	fakeSync
	emptyPolls int32
}

func (p *pollingSync) Pull(ctx context.Context, ownerID string, cursor int64) (*model.SyncResponse, error) {
	if atomic.AddInt32(&p.emptyPolls, -1) >= 0 {
		return &model.SyncResponse{Cursor: cursor}, nil
	}
	return &model.SyncResponse{
		Records: []model.WireRecord{{ID: "r1", Kind: model.KindChat, State: model.StateUpdated, UpdatedAt: cursor + 1}},
		Cursor:  cursor + 1,
	}, nil
}

func TestLive_DeliversDeltaAndCloses(t *testing.T) {
	ps := &pollingSync{emptyPolls: 3}
	srv := httptest.NewServer(newTestServer(&fakeUsers{}, ps, &fakeGen{}).Handler())
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) +
		"/api/live?cursor=10&token=" + mintToken(t, "user-7")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var resp model.SyncResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Len(t, resp.Records, 1)
	require.Equal(t, "r1", resp.Records[0].ID)
	require.Equal(t, int64(11), resp.Cursor)

	// server closes after the single delta
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.Error(t, conn.ReadJSON(&resp))
}

func TestLive_RejectsMissingToken(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeUsers{}, &fakeSync{}, &fakeGen{}).Handler())
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/live"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}
