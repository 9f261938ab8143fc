// ABOUTME: Tests for Fanout local delivery and cross-node forwarding
// ABOUTME: Uses an in-process bus in place of Redis or NATS

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	userID string
	event  string
	data   string
}

type recordingLocal struct {
	mu  sync.Mutex
	got []delivery
}

func (l *recordingLocal) SendRaw(userID, event string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, delivery{userID, event, string(data)})
}

func (l *recordingLocal) deliveries() []delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]delivery(nil), l.got...)
}

// bus is an in-process Relay shared by several Fanouts
type bus struct {
	mu          sync.Mutex
	subscribers []func(Envelope)
	published   int
	closed      bool
	publishErr  error
	pingErr     error
	// stall, when set, blocks Publish until it is closed or ctx ends
	stall chan struct{}
}

func (b *bus) Publish(ctx context.Context, env Envelope) error {
	if b.stall != nil {
		select {
		case <-b.stall:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	b.published++
	subs := make([]func(Envelope), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()
	for _, s := range subs {
		s(env)
	}
	return nil
}

func (b *bus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

func (b *bus) Ping(context.Context) error { return b.pingErr }

func (b *bus) Subscribe(ctx context.Context, handle func(Envelope)) error {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, handle)
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *bus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func TestFanout_LocalOnly(t *testing.T) {
	local := &recordingLocal{}
	f := NewFanout(local, nil, nil)

	f.Send("u1", "typing", map[string]bool{"is_typing": true})

	got := local.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].userID)
	assert.JSONEq(t, `{"is_typing":true}`, got[0].data)

	assert.NoError(t, f.Run(t.Context()))
	assert.NoError(t, f.Close())
}

func TestFanout_ForwardsToOtherNodesOnly(t *testing.T) {
	b := &bus{}
	localA, localB := &recordingLocal{}, &recordingLocal{}
	nodeA := NewFanout(localA, b, nil)
	nodeB := NewFanout(localB, b, nil)
	require.NotEqual(t, nodeA.Node(), nodeB.Node())

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	for _, f := range []*Fanout{nodeA, nodeB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.Run(ctx))
		}()
	}
	require.Eventually(t, func() bool { return b.subscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	nodeA.Send("u1", "new_message", map[string]string{"id": "m1"})

	require.Eventually(t, func() bool { return len(localB.deliveries()) == 1 }, time.Second, 5*time.Millisecond)

	// Node A delivers locally exactly once; its own envelope is skipped
	assert.Len(t, localA.deliveries(), 1)
	gotB := localB.deliveries()
	require.Len(t, gotB, 1)
	assert.Equal(t, "new_message", gotB[0].event)
	assert.JSONEq(t, `{"id":"m1"}`, gotB[0].data)

	cancel()
	wg.Wait()
}

func TestFanout_PublishFailureStillDeliversLocally(t *testing.T) {
	local := &recordingLocal{}
	f := NewFanout(local, &bus{publishErr: errors.New("redis down")}, nil)

	f.Send("u1", "new_message", struct{}{})

	assert.Len(t, local.deliveries(), 1)
	assert.NoError(t, f.Close())
}

func TestFanout_StalledRelayDoesNotBlockSend(t *testing.T) {
	local := &recordingLocal{}
	b := &bus{stall: make(chan struct{})}
	f := NewFanout(local, b, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		f.Send("u1", "new_message", map[string]int{"n": i})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, local.deliveries(), 3)

	close(b.stall)
	require.Eventually(t, func() bool { return b.publishedCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, f.Close())
}

func TestFanout_CloseFlushesQueue(t *testing.T) {
	b := &bus{}
	f := NewFanout(&recordingLocal{}, b, nil)

	for i := 0; i < 10; i++ {
		f.Send("u1", "typing", map[string]int{"n": i})
	}
	require.NoError(t, f.Close())

	assert.Equal(t, 10, b.publishedCount())
	assert.True(t, b.closed)

	// Later sends stay local and Close is idempotent
	f.Send("u1", "typing", struct{}{})
	assert.Equal(t, 10, b.publishedCount())
	assert.NoError(t, f.Close())
}

func TestFanout_Ping(t *testing.T) {
	assert.NoError(t, NewFanout(&recordingLocal{}, nil, nil).Ping(t.Context()))

	ok := NewFanout(&recordingLocal{}, &bus{}, nil)
	assert.NoError(t, ok.Ping(t.Context()))
	require.NoError(t, ok.Close())

	down := NewFanout(&recordingLocal{}, &bus{pingErr: errors.New("redis down")}, nil)
	assert.Error(t, down.Ping(t.Context()))
	require.NoError(t, down.Close())
}

func TestFanout_UnmarshalablePayload(t *testing.T) {
	local := &recordingLocal{}
	f := NewFanout(local, nil, nil)

	f.Send("u1", "bad", func() {})

	assert.Empty(t, local.deliveries())
}

func TestDecodeEnvelope(t *testing.T) {
	env, ok := decodeEnvelope(slog.Default(), []byte(`{"node":"n1","user_id":"u1","event":"typing","data":{"a":1}}`))
	require.True(t, ok)
	assert.Equal(t, "u1", env.UserID)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))

	_, ok = decodeEnvelope(slog.Default(), []byte(`not json`))
	assert.False(t, ok)
}
