package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatledger/internal/logger"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return d.err
}

func (d *recordingDispatcher) recipients() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.msgs))
	for _, m := range d.msgs {
		out = append(out, m.MemberID)
	}
	return out
}

type fakePublisher struct {
	bodies [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	p.bodies = append(p.bodies, body)
	return nil
}

func TestKafkaDispatcher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.MemberID != "bob" || msg.Metadata["chat_id"] != "1" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "ledger.notification")
	err := d.Dispatch(context.Background(), Message{
		MemberID: "bob",
		Title:    "新流水",
		Metadata: map[string]string{"chat_id": "1"},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestAMQPDispatcher(t *testing.T) {
	pub := &fakePublisher{}
	d := NewAMQPDispatcher(pub)

	require.NoError(t, d.Dispatch(context.Background(), Message{MemberID: "alice", Title: "t"}))
	require.Len(t, pub.bodies, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "alice", msg.MemberID)
}

func TestNotifier_FanOutAndWait(t *testing.T) {
	d := &recordingDispatcher{}
	n := NewNotifier(d, time.Second, logger.Discard())

	n.NotifyMembers(context.Background(), []string{"bob", "carol"}, "新流水", "alice 添加了一笔流水", nil)
	require.True(t, n.Wait(time.Second))

	assert.ElementsMatch(t, []string{"bob", "carol"}, d.recipients())
}

func TestNotifier_DispatchErrorIsSwallowed(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("broker down")}
	n := NewNotifier(d, time.Second, logger.Discard())

	n.NotifyMembers(context.Background(), []string{"bob"}, "t", "b", nil)
	require.True(t, n.Wait(time.Second))
	assert.Equal(t, []string{"bob"}, d.recipients())
}

func TestNotifier_SurvivesCanceledRequest(t *testing.T) {
	d := &recordingDispatcher{}
	n := NewNotifier(d, time.Second, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.NotifyMembers(ctx, []string{"bob"}, "t", "b", nil)
	require.True(t, n.Wait(time.Second))
	assert.Equal(t, []string{"bob"}, d.recipients())
}

func TestNotifier_NilAndEmpty(t *testing.T) {
	var n *Notifier
	n.NotifyMembers(context.Background(), []string{"bob"}, "t", "b", nil)
	assert.True(t, n.Wait(time.Millisecond))

	d := &recordingDispatcher{}
	n = NewNotifier(d, 0, logger.Discard())
	n.NotifyMembers(context.Background(), nil, "t", "b", nil)
	assert.True(t, n.Wait(time.Second))
	assert.Empty(t, d.recipients())
}
