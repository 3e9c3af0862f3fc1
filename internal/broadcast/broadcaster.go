package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ICShapy/shapy/internal/domain"
	"github.com/ICShapy/shapy/pkg/log"
	"github.com/ICShapy/shapy/pkg/pubsub"
)

// Broadcaster fans scene messages out to every session subscribed to the
// scene, stamping each with the next sequence number.
type Broadcaster interface {
	Publish(ctx context.Context, sceneID string, msg domain.Outbound) (int64, error)
	Subscribe(ctx context.Context, sceneID string) (pubsub.Subscription, error)
}

// Sequencer owns the per-scene counter. store.SceneStore satisfies it.
type Sequencer interface {
	NextSequence(ctx context.Context, id string) (int64, error)
	SequenceKey(id string) string
}

type broadcaster struct {
	bus  pubsub.PubSub
	seqs Sequencer
}

// New returns a Broadcaster over bus. When bus can publish sequenced
// messages atomically the counter is incremented inside the bus; otherwise
// it is taken from seqs before publishing.
func New(bus pubsub.PubSub, seqs Sequencer) Broadcaster {
	return &broadcaster{bus: bus, seqs: seqs}
}

func (b *broadcaster) Publish(ctx context.Context, sceneID string, msg domain.Outbound) (int64, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s message: %w", msg.MessageType(), err)
	}

	channel := pubsub.SceneChannel(sceneID)

	var seq int64
	if sp, ok := b.bus.(pubsub.SequencedPublisher); ok {
		seq, err = sp.PublishSequenced(ctx, channel, b.seqs.SequenceKey(sceneID), payload)
		if err != nil {
			return 0, fmt.Errorf("failed to broadcast %s: %w", msg.MessageType(), err)
		}
	} else {
		seq, err = b.seqs.NextSequence(ctx, sceneID)
		if err != nil {
			return 0, err
		}
		stamped, err := pubsub.StampSeq(payload, seq)
		if err != nil {
			return 0, err
		}
		if err := b.bus.Publish(ctx, channel, stamped); err != nil {
			return 0, fmt.Errorf("failed to broadcast %s: %w", msg.MessageType(), err)
		}
	}

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldMsgType, msg.MessageType()).
		Int64(log.FieldSeq, seq).
		Msg("message broadcast")

	return seq, nil
}

func (b *broadcaster) Subscribe(ctx context.Context, sceneID string) (pubsub.Subscription, error) {
	sub, err := b.bus.Subscribe(ctx, pubsub.SceneChannel(sceneID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to scene %s: %w", sceneID, err)
	}
	return sub, nil
}
