package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_OmitsZeroFields(t *testing.T) {
	f := &Frame{Action: ActionGrowlMessage, Handler: HandlerGrowl, Content: "boom", UserID: 2, Time: 123}

	raw, err := Encode(f)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, "growl", m["action"])
	assert.Equal(t, "boom", m["content"])
	assert.NotContains(t, m, "image")
	assert.NotContains(t, m, "receiverId")
	assert.NotContains(t, m, "roomId")
}

func TestDecodeClient(t *testing.T) {
	f, err := DecodeClient([]byte(`{"action":"sendMessage","content":"hi","channel":"u3"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionSendMessage, f.Action)
	assert.Equal(t, "hi", f.Content)
	assert.Equal(t, "u3", f.Channel)

	_, err = DecodeClient([]byte(`{"action":`))
	assert.Error(t, err)
}

func TestDecodeClient_HeaderID(t *testing.T) {
	f, err := DecodeClient([]byte(`{"action":"messages","headerId":100,"count":3}`))
	require.NoError(t, err)
	require.NotNil(t, f.HeaderID)
	assert.Equal(t, int64(100), *f.HeaderID)
	assert.Equal(t, 3, f.Count)

	// headerId absent stays nil so the history query skips the id filter
	f, err = DecodeClient([]byte(`{"action":"messages"}`))
	require.NoError(t, err)
	assert.Nil(t, f.HeaderID)
}

func TestMarkAndDecodeBus(t *testing.T) {
	payload, err := Encode(&Frame{Action: ActionCreateRoomChannel, RoomID: 5, Name: "general"})
	require.NoError(t, err)

	marked := Mark(payload)
	assert.Equal(t, byte('p'), marked[0])

	raw, f, err := DecodeBus(marked)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, payload, raw)
	assert.Equal(t, ActionCreateRoomChannel, f.Action)
	assert.Equal(t, int64(5), f.RoomID)
}

func TestDecodeBus_Unmarked(t *testing.T) {
	payload := []byte(`{"action":"printMessage","content":"hi"}`)

	raw, f, err := DecodeBus(payload)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, payload, raw)
}

func TestDecodeBus_MalformedMarked(t *testing.T) {
	_, _, err := DecodeBus([]byte(`p{"action":`))
	assert.Error(t, err)
}

func TestChannelHelpers(t *testing.T) {
	assert.Equal(t, "u3", UserChannel(3))
	assert.Equal(t, "r5", RoomChannel(5))
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		kind    byte
		id      int64
		wantErr bool
	}{
		{"user channel", "u3", 'u', 3, false},
		{"room channel", "r99", 'r', 99, false},
		{"empty", "", 0, 0, true},
		{"prefix only", "u", 0, 0, true},
		{"unknown kind", "x5", 0, 0, true},
		{"non numeric id", "rab", 0, 0, true},
		{"zero id", "r0", 0, 0, true},
		{"negative id", "u-2", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, err := ParseChannel(tt.channel)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestMark_DoesNotAliasInput(t *testing.T) {
	payload := []byte(`{"action":"deleteRoom"}`)
	marked := Mark(payload)
	marked[1] = 'X'
	assert.Equal(t, byte('{'), payload[0])
}
