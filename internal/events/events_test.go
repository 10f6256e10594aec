package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishOrderAndWildcard(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []string
	bus.Subscribe(TypeCheckedIn, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.Type)
		return errors.New("ignored")
	})
	bus.Subscribe(TypeCheckedIn, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.Type)
		return nil
	})
	bus.Subscribe("*", func(_ context.Context, e Event) error {
		got = append(got, "all:"+e.Type)
		return nil
	})

	ev, err := New(TypeCheckedIn, ReservationPayload{ReservationID: 1, Plate: "AB1234", SpotID: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	bus.Publish(context.Background(), ev)
	bus.Publish(context.Background(), Event{Type: TypeCheckedOut})

	assert.Equal(t, []string{
		"first:" + TypeCheckedIn,
		"second:" + TypeCheckedIn,
		"all:" + TypeCheckedIn,
		"all:" + TypeCheckedOut,
	}, got)
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestAMQPPublisher_Handle(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "parkly.events", amqp.ExchangeTopic, true).Return(nil)
	ch.On("PublishWithContext", "parkly.events", TypeCheckedOut, mock.MatchedBy(func(msg amqp.Publishing) bool {
		var e Event
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			return false
		}
		return msg.DeliveryMode == amqp.Persistent && e.Type == TypeCheckedOut && msg.MessageId == e.ID
	})).Return(nil).Once()
	ch.On("Close").Return(nil)

	p, err := newAMQPPublisher(ch, "", zerolog.Nop())
	require.NoError(t, err)

	ev, err := New(TypeCheckedOut, ReservationPayload{ReservationID: 5})
	require.NoError(t, err)
	require.NoError(t, p.Handle(context.Background(), ev))
	require.NoError(t, p.Close())

	ch.AssertExpectations(t)
}

func TestAMQPPublisher_DeclareFails(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "x", amqp.ExchangeTopic, true).Return(errors.New("access refused"))
	ch.On("Close").Return(nil)

	_, err := newAMQPPublisher(ch, "x", zerolog.Nop())
	assert.ErrorContains(t, err, "access refused")
	ch.AssertCalled(t, "Close")
}
