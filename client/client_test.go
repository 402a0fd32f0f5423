package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcomm/pypeman/admin"
	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
)

func testServer(t *testing.T) (*channel.Channel, *Client) {
	t.Helper()
	reg := channel.NewRegistry()
	ch := reg.New("orders", channel.WithStoreFactory(msgstore.NewMemoryFactory()))
	ch.Append(node.Func("upper", func(_ context.Context, msg *message.Message) (*message.Message, error) {
		msg.Payload = strings.ToUpper(msg.PayloadString())
		return msg, nil
	}))
	srv := httptest.NewServer(admin.NewRouter(zerolog.Nop(), reg))
	t.Cleanup(srv.Close)
	return ch, New(srv.URL)
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	_, c := testServer(t)

	h, err := c.GetHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.Channels)

	chans, err := c.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "STOPPED", chans[0].State)

	info, err := c.StartChannel(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "WAITING", info.State)

	info, err = c.StopChannel(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", info.State)

	_, err = c.GetChannel(ctx, "ghost")
	assert.ErrorContains(t, err, "unknown channel")
}

func TestClientSearchAndReplay(t *testing.T) {
	ctx := context.Background()
	ch, c := testServer(t)
	require.NoError(t, ch.Start(ctx))

	_, err := ch.Handle(ctx, message.New("hello"))
	require.NoError(t, err)

	page, err := c.SearchMessages(ctx, "orders", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "PROCESSED", page.Results[0].Status)

	rec, err := c.GetMessage(ctx, "orders", page.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Message.Payload)

	replayed, err := c.ReplayMessage(ctx, "orders", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", replayed.Payload)
}
