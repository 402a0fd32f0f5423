package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
)

func testSetup(t *testing.T) (*channel.Registry, *channel.Channel, http.Handler) {
	t.Helper()
	reg := channel.NewRegistry()
	ch := reg.New("orders", channel.WithStoreFactory(msgstore.NewMemoryFactory()))
	ch.Append(node.Func("upper", func(_ context.Context, msg *message.Message) (*message.Message, error) {
		msg.Payload = strings.ToUpper(msg.PayloadString())
		return msg, nil
	}))
	return reg, ch, NewRouter(zerolog.Nop(), reg)
}

func doJSON(t *testing.T, h http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestHealth(t *testing.T) {
	_, _, h := testSetup(t)
	var resp HealthResponse
	rec := doJSON(t, h, http.MethodGet, "/health", &resp)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.Channels)
	assert.Equal(t, 0, resp.Running)
}

func TestChannelLifecycleOverHTTP(t *testing.T) {
	_, ch, h := testSetup(t)

	var infos []ChannelInfo
	rec := doJSON(t, h, http.MethodGet, "/channels", &infos)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, infos, 1)
	assert.Equal(t, "orders", infos[0].Name)
	assert.Equal(t, "STOPPED", infos[0].State)

	var info ChannelInfo
	rec = doJSON(t, h, http.MethodPost, "/channels/orders/start", &info)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WAITING", info.State)
	assert.Equal(t, channel.Waiting, ch.State())

	// starting a running channel conflicts
	rec = doJSON(t, h, http.MethodPost, "/channels/orders/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/channels/orders/stop", &info)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STOPPED", info.State)

	rec = doJSON(t, h, http.MethodGet, "/channels/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageSearchAndReplayOverHTTP(t *testing.T) {
	ctx := context.Background()
	_, ch, h := testSetup(t)
	require.NoError(t, ch.Start(ctx))

	_, err := ch.Handle(ctx, message.New("hello"))
	require.NoError(t, err)

	var page SearchResponse
	rec := doJSON(t, h, http.MethodGet, "/channels/orders/messages", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "PROCESSED", page.Results[0].Status)
	assert.EqualValues(t, 1, page.Total)
	require.NotNil(t, page.Results[0].Message)
	assert.Equal(t, "hello", page.Results[0].Message.Payload)

	var single RecordView
	rec = doJSON(t, h, http.MethodGet, "/channels/orders/messages/"+page.Results[0].ID, &single)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, page.Results[0].ID, single.ID)

	var replayed MessageView
	rec = doJSON(t, h, http.MethodPost, "/channels/orders/messages/"+page.Results[0].ID+"/replay", &replayed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HELLO", replayed.Payload)

	rec = doJSON(t, h, http.MethodGet, "/channels/orders/messages", &page)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, page.Results, 2)

	rec = doJSON(t, h, http.MethodPost, "/channels/orders/messages/nope/replay", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/channels/orders/messages?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	_, _, h := testSetup(t)
	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
