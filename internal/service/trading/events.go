package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryptotrader/trading-service/internal/constant"
	"github.com/cryptotrader/trading-service/internal/entity"
	"github.com/cryptotrader/trading-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	PublishOrderEvent(ctx context.Context, event entity.OrderEvent) error
}

// JetstreamPublisher emits order lifecycle events onto the order event
// stream. Publishing is best effort from the service's point of view;
// downstream consumers (reporting, notifications) must tolerate gaps.
type JetstreamPublisher struct {
	js nats.JetStreamContext
}

func NewJetstreamPublisher(js nats.JetStreamContext) *JetstreamPublisher {
	return &JetstreamPublisher{js: js}
}

// EnsureStream creates the order event stream if it does not exist yet.
func (p *JetstreamPublisher) EnsureStream() error {
	_, err := p.js.StreamInfo(constant.OrderEventStreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("inspect order event stream: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:      constant.OrderEventStreamName,
		Subjects:  []string{constant.OrderEventStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create order event stream: %w", err)
	}

	logrus.WithField("stream", constant.OrderEventStreamName).Info("order event stream created")
	return nil
}

func (p *JetstreamPublisher) PublishOrderEvent(_ context.Context, event entity.OrderEvent) error {
	return util.PublishEvent(p.js, constant.GetOrderEventSubject(event.Venue), event)
}
