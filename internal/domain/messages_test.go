package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"name", `{"type":"name","value":"Castle"}`, NameRequest{Value: "Castle"}},
		{"lock", `{"type":"lock","objects":["obj_1","obj_2"]}`, LockRequest{Objects: []string{"obj_1", "obj_2"}}},
		{"lock without objects", `{"type":"lock"}`, LockRequest{Objects: []string{}}},
		{"lock with null objects", `{"type":"lock","objects":null}`, LockRequest{Objects: []string{}}},
		{"unlock", `{"type":"unlock","objects":["obj_1"]}`, UnlockRequest{Objects: []string{"obj_1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInbound_PassthroughDropsSeq(t *testing.T) {
	got, err := ParseInbound([]byte(`{"type":"move","seq":99,"obj":"obj_0","tx":1.5}`))
	require.NoError(t, err)

	p, ok := got.(Passthrough)
	require.True(t, ok)
	assert.Equal(t, "move", p.Type)
	assert.NotContains(t, p.Fields, "seq")
	assert.JSONEq(t, `"obj_0"`, string(p.Fields["obj"]))
	assert.JSONEq(t, `1.5`, string(p.Fields["tx"]))
}

func TestParseInbound_Malformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`null`,
		`[1,2]`,
		`{"value":"x"}`,
		`{"type":7}`,
		`{"type":""}`,
		`{"type":"name"}`,
		`{"type":"name","value":3}`,
		`{"type":"lock","objects":"obj_1"}`,
		`{"type":"unlock","objects":[1]}`,
	} {
		_, err := ParseInbound([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestOutboundEncoding(t *testing.T) {
	scene := &Scene{ID: "7", Name: DefaultSceneName}

	tests := []struct {
		msg  Outbound
		want string
	}{
		{NewMetaMessage(scene), `{"type":"meta","name":"New Scene","users":[]}`},
		{NewJoinMessage("b"), `{"type":"join","user":"b"}`},
		{NewLeaveMessage("b"), `{"type":"leave","user":"b"}`},
		{NewLockMessage(nil, "a"), `{"type":"lock","objects":[],"user":"a"}`},
		{NewLockMessage([]string{"obj_1"}, "b"), `{"type":"lock","objects":["obj_1"],"user":"b"}`},
		{NewUnlockMessage(nil), `{"type":"unlock","objects":[]}`},
		{NewNameMessage("Castle", "a"), `{"type":"name","value":"Castle","user":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.msg.MessageType(), func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestRawMessageVerbatim(t *testing.T) {
	in, err := ParseInbound([]byte(`{"type":"vertex","seq":4,"id":"v1","pos":[0,1,2]}`))
	require.NoError(t, err)

	msg := NewRawMessage(in.(Passthrough))
	assert.Equal(t, "vertex", msg.MessageType())

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"vertex","id":"v1","pos":[0,1,2]}`, string(data))
}

func TestPeekEnvelope(t *testing.T) {
	env, err := PeekEnvelope([]byte(`{"seq":12,"type":"unlock","objects":[]}`))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Type: MsgTypeUnlock}, env)

	_, err = PeekEnvelope([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformed)
}
