package pubsub

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Channel naming conventions for scene fan-out.
const (
	// ChannelScene carries every broadcast for one scene.
	ChannelScene = "scene:%s:chan"

	channelScenePrefix = "scene:"
	channelSceneSuffix = ":chan"
)

// ErrNotObject is returned when a payload to be sequenced is not a JSON object.
var ErrNotObject = errors.New("pubsub: payload is not a JSON object")

// SceneChannel returns the channel name for a scene.
func SceneChannel(sceneID string) string {
	return fmt.Sprintf(ChannelScene, sceneID)
}

// SceneFromChannel extracts the scene ID from a channel name.
func SceneFromChannel(channel string) (string, error) {
	if !strings.HasPrefix(channel, channelScenePrefix) || !strings.HasSuffix(channel, channelSceneSuffix) {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(channel, channelScenePrefix), channelSceneSuffix)
	if id == "" {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return id, nil
}

// StampSeq inserts "seq" as the first member of a JSON object payload. It
// produces the same bytes as the Redis sequenced publish script.
func StampSeq(payload []byte, seq int64) ([]byte, error) {
	body, err := normalizeObject(payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+24)
	out = append(out, `{"seq":`...)
	out = strconv.AppendInt(out, seq, 10)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}
