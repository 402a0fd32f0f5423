package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/node"
)

func testChannel(t *testing.T, name string, nodes ...node.Node) *channel.Channel {
	t.Helper()
	reg := channel.NewRegistry()
	ch := reg.New(name)
	ch.Append(nodes...)
	require.NoError(t, ch.Start(context.Background()))
	return ch
}

func upperNode() node.Node {
	return node.Func("upper", func(_ context.Context, msg *message.Message) (*message.Message, error) {
		if b, ok := msg.Payload.([]byte); ok {
			msg.Payload = []byte(strings.ToUpper(string(b)))
		}
		return msg, nil
	})
}

func TestHTTPIngestionSuccess(t *testing.T) {
	ch := testChannel(t, "web", upperNode())
	srv := NewHTTPServer("ingest", ":0", zerolog.Nop())
	srv.Mount("/in", ch)

	req := httptest.NewRequest(http.MethodPost, "/in?tenant=acme", strings.NewReader("hello"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HELLO", rec.Body.String())
	assert.EqualValues(t, 1, ch.Processed())
}

func TestHTTPIngestionOutcomes(t *testing.T) {
	srv := NewHTTPServer("ingest", ":0", zerolog.Nop())
	srv.Mount("/drop", testChannel(t, "dropper", node.NewDrop("d", "noise")))
	srv.Mount("/reject", testChannel(t, "rejecter", node.NewReject("r", "bad")))
	srv.Mount("/fault", testChannel(t, "faulter", node.Func("f",
		func(_ context.Context, msg *message.Message) (*message.Message, error) {
			return nil, assert.AnError
		})))

	cases := []struct {
		path   string
		status int
	}{
		{"/drop", http.StatusNoContent},
		{"/reject", http.StatusUnprocessableEntity},
		{"/fault", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader("x"))
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.path)
	}
}

func TestHTTPIngestionStoppedChannel(t *testing.T) {
	reg := channel.NewRegistry()
	ch := reg.New("idle")
	ch.Append(upperNode())
	// never started

	srv := NewHTTPServer("ingest", ":0", zerolog.Nop())
	srv.Mount("/in", ch)

	req := httptest.NewRequest(http.MethodPost, "/in", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPMethodRestriction(t *testing.T) {
	srv := NewHTTPServer("ingest", ":0", zerolog.Nop())
	srv.Mount("/in", testChannel(t, "postonly", upperNode()))

	req := httptest.NewRequest(http.MethodGet, "/in", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
