package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsOrderedIDs(t *testing.T) {
	a := New("first")
	b := New("second")

	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
	// UUID v7 ids sort by creation time
	assert.Less(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.NotNil(t, a.Meta)
	assert.NotNil(t, a.Ctx)
}

func TestCopyIsIndependent(t *testing.T) {
	orig := New(map[string]any{"amount": 42, "tags": []any{"a", "b"}})
	orig.Meta["source"] = "inbox"
	orig.AddContext("entry", orig)

	cp := orig.Copy()
	require.Equal(t, orig.ID, cp.ID)
	require.Equal(t, orig.Timestamp, cp.Timestamp)

	cp.Payload.(map[string]any)["amount"] = 7
	cp.Meta["source"] = "other"
	cp.Ctx["entry"].Meta["source"] = "other"

	assert.Equal(t, 42, orig.Payload.(map[string]any)["amount"])
	assert.Equal(t, "inbox", orig.Meta["source"])
	assert.Equal(t, "inbox", orig.Ctx["entry"].Meta["source"])
}

func TestCopyDeepCopiesBytes(t *testing.T) {
	orig := New([]byte("hello"))
	cp := orig.Copy()
	cp.Payload.([]byte)[0] = 'x'
	assert.Equal(t, "hello", string(orig.Payload.([]byte)))
}

func TestCopySharedKeepsPayloadReference(t *testing.T) {
	payload := map[string]any{"k": "v"}
	orig := New(payload)
	cp := orig.CopyShared()
	cp.Payload.(map[string]any)["k"] = "changed"
	assert.Equal(t, "changed", payload["k"])
}

func TestRenewChangesIdentityOnly(t *testing.T) {
	orig := New("content")
	orig.Meta["k"] = "v"
	renewed := orig.Renew()

	assert.NotEqual(t, orig.ID, renewed.ID)
	assert.False(t, renewed.Timestamp.Before(orig.Timestamp))
	assert.Equal(t, "content", renewed.Payload)
	assert.Equal(t, "v", renewed.Meta["k"])
}

func TestStorableRoundTrip(t *testing.T) {
	orig := New([]byte(`{"order": 1}`))
	orig.Meta["content-type"] = "application/json"
	orig.AddContext("raw", orig)

	s, err := orig.ToStorable(true)
	require.NoError(t, err)
	require.NotEmpty(t, s.Payload)

	back, err := FromStorable(s)
	require.NoError(t, err)
	assert.Equal(t, orig.ID, back.ID)
	assert.Equal(t, `{"order": 1}`, back.PayloadString())
	assert.Equal(t, "application/json", back.Meta["content-type"])
	require.Contains(t, back.Ctx, "raw")
	assert.Equal(t, `{"order": 1}`, string(back.Ctx["raw"].Payload.([]byte)))
}

func TestStorableWithoutPayload(t *testing.T) {
	orig := New("secret body")
	orig.Meta["kind"] = "probe"

	s, err := orig.ToStorable(false)
	require.NoError(t, err)
	assert.Nil(t, s.Payload)

	back, err := FromStorable(s)
	require.NoError(t, err)
	assert.Nil(t, back.Payload)
	assert.Equal(t, "probe", back.Meta["kind"])
}

func TestPayloadString(t *testing.T) {
	assert.Equal(t, "text", New("text").PayloadString())
	assert.Equal(t, "bytes", New([]byte("bytes")).PayloadString())
	assert.Equal(t, "42", New(42).PayloadString())
}
