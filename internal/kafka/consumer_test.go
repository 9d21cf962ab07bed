package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error { return nil }

func TestConsumer_DeliversDecodedEventsAndSkipsGarbage(t *testing.T) {
	good, _ := json.Marshal(models.NewContestEvent(models.EventEntryCreated, 9))
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte("garbage"), Offset: 1},
		{Value: good, Offset: 2},
	}}
	c := &Consumer{reader: reader, logger: logger.NewWithWriter(&bytes.Buffer{})}

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan models.ContestEvent, 2)
	done := make(chan struct{})
	go func() {
		c.Start(ctx, func(_ context.Context, e models.ContestEvent) { received <- e })
		close(done)
	}()

	select {
	case e := <-received:
		assert.Equal(t, models.EventEntryCreated, e.Type)
		assert.Equal(t, int64(9), e.EntryID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
	assert.Empty(t, received)
}
