package node

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/persist"
)

func TestControlSignals(t *testing.T) {
	drop := Dropped("not for us")
	reject := Rejected("schema violation")

	assert.True(t, IsDropped(drop))
	assert.False(t, IsRejected(drop))
	assert.True(t, IsRejected(reject))
	assert.False(t, IsDropped(reject))

	// Detection must survive wrapping, the channel annotates node errors.
	wrapped := fmt.Errorf("node filter: %w", drop)
	assert.True(t, IsDropped(wrapped))

	assert.Contains(t, drop.Error(), "not for us")
	assert.Contains(t, reject.Error(), "schema violation")
}

func TestBaseDataPersistence(t *testing.T) {
	ctx := context.Background()
	backend := persist.NewMemory()

	counter := Func("counter", nil)
	counter.Bind("orders", backend)
	require.Equal(t, "orders.counter", counter.FullPath())

	_, err := counter.RestoreData(ctx, "count")
	assert.ErrorIs(t, err, persist.ErrNotFound)

	v, err := counter.RestoreDataOr(ctx, "count", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, counter.SaveData(ctx, "count", 5))
	v, err = counter.RestoreData(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	// Same key under another node name is a different namespace.
	other := Func("other", nil)
	other.Bind("orders", backend)
	_, err = other.RestoreData(ctx, "count")
	assert.ErrorIs(t, err, persist.ErrNotFound)
}

func TestOffloadPreservesResultAndIdentity(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	inner := Func("heavy", func(_ context.Context, msg *message.Message) (*message.Message, error) {
		msg.Payload = msg.Payload.(int) * 2
		return msg, nil
	})
	wrapped := Offload(inner, pool)

	out, err := wrapped.Process(context.Background(), message.New(21))
	require.NoError(t, err)
	assert.Equal(t, 42, out.Payload)

	// Binding and counters stay reachable through the decorator.
	assert.Same(t, Node(inner), Resolve(wrapped))
	assert.Equal(t, "heavy", wrapped.Name())
}

func TestOffloadHonorsContextCancel(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	block := make(chan struct{})
	inner := Func("stuck", func(_ context.Context, msg *message.Message) (*message.Message, error) {
		<-block
		return msg, nil
	})
	wrapped := Offload(inner, pool)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := wrapped.Process(ctx, message.New("x"))
		done <- err
	}()
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}

func TestBuiltinTransforms(t *testing.T) {
	ctx := context.Background()

	out, err := NewJSONToMap("parse").Process(ctx, message.New(`{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), out.Payload.(map[string]any)["a"])

	_, err = NewJSONToMap("parse2").Process(ctx, message.New("not json"))
	assert.True(t, IsRejected(err))

	out, err = NewMapToJSON("render").Process(ctx, message.New(map[string]any{"a": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, out.Payload.(string))

	out, err = NewB64Encode("enc").Process(ctx, message.New([]byte("hi")))
	require.NoError(t, err)
	out, err = NewB64Decode("dec").Process(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), out.Payload)

	_, err = NewDrop("discard", "noise").Process(ctx, message.New("x"))
	assert.True(t, IsDropped(err))

	_, err = NewReject("refuse", "bad").Process(ctx, message.New("x"))
	assert.True(t, IsRejected(err))
}

func TestSetCtxRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	msg := message.New("original")
	msg.Meta["stage"] = "entry"
	msg.AddContext("entry", msg)

	msg.Payload = "mutated"
	msg.Meta["stage"] = "late"

	out, err := NewSetCtx("rewind", "entry").Process(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "original", out.Payload)
	assert.Equal(t, "entry", out.Meta["stage"])

	_, err = NewSetCtx("rewind2", "missing").Process(ctx, msg)
	assert.Error(t, err)
}
