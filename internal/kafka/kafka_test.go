package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.KafkaConfig {
	return &config.KafkaConfig{
		ScoreTopic:    "economy-scores",
		EventTopic:    "economy-events",
		GroupID:       "economy-test",
		BatchSize:     2,
		BatchTimeout:  50 * time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
}

func TestProducerPublish(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(mock, testConfig(), testLogger())

	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "economy-events" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "alice" {
			return fmt.Errorf("unexpected key %s", key)
		}
		value, _ := msg.Value.Encode()
		var event domain.Event
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Type != domain.EventTradeCompleted {
			return fmt.Errorf("unexpected type %s", event.Type)
		}
		return nil
	})

	err := p.Publish(context.Background(), domain.Event{
		Type:      domain.EventTradeCompleted,
		PlayerID:  "alice",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducerSendScoreFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(mock, testConfig(), testLogger())

	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := p.SendScore(context.Background(), domain.ScoreMessage{PlayerID: "bob", Category: "gold", Value: 10})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

type fakeIngester struct {
	mu       sync.Mutex
	admitted []domain.ScoreMessage
	calls    int
	// errs is consumed one per call before falling back to success
	errs []error
}

func (f *fakeIngester) IngestScore(_ context.Context, msg domain.ScoreMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.admitted = append(f.admitted, msg)
	return nil
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "economy-scores" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func scoreMessage(t *testing.T, offset int64, msg interface{}) *sarama.ConsumerMessage {
	t.Helper()
	var value []byte
	switch v := msg.(type) {
	case string:
		value = []byte(v)
	default:
		var err error
		value, err = json.Marshal(v)
		require.NoError(t, err)
	}
	return &sarama.ConsumerMessage{Topic: "economy-scores", Offset: offset, Value: value}
}

func runClaim(t *testing.T, ingester ScoreIngester, messages ...*sarama.ConsumerMessage) *fakeSession {
	t.Helper()
	cfg := testConfig()
	cfg.BatchTimeout = time.Minute
	c := newConsumer(cfg, ingester, nil, testLogger())
	h := &consumerGroupHandler{consumer: c, ready: make(chan struct{}), once: &sync.Once{}}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, m := range messages {
		claim.messages <- m
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))
	return session
}

func TestConsumeClaimIngestsAndSkips(t *testing.T) {
	ingester := &fakeIngester{}
	session := runClaim(t, ingester,
		scoreMessage(t, 1, domain.ScoreMessage{PlayerID: "alice", Category: "gold", Value: 10}),
		scoreMessage(t, 2, "{not json"),
		scoreMessage(t, 3, domain.ScoreMessage{Category: "gold", Value: 1}),
		scoreMessage(t, 4, domain.ScoreMessage{PlayerID: "bob", Category: "kills", Value: 3}),
		scoreMessage(t, 5, domain.ScoreMessage{PlayerID: "carol", Category: "crafts", Value: 7}),
	)

	require.Len(t, ingester.admitted, 3)
	assert.Equal(t, "alice", ingester.admitted[0].PlayerID)
	assert.Equal(t, "carol", ingester.admitted[2].PlayerID)
	// batches of two: flushed at bob and at the end of the claim
	assert.Equal(t, []int64{4, 5}, session.marked)
}

func TestConsumeClaimRetriesInternalErrors(t *testing.T) {
	ingester := &fakeIngester{errs: []error{
		fmt.Errorf("%w: settling score", domain.ErrInternalError),
		nil,
	}}
	runClaim(t, ingester, scoreMessage(t, 1, domain.ScoreMessage{PlayerID: "alice", Category: "gold", Value: 10}))

	assert.Equal(t, 2, ingester.calls)
	assert.Len(t, ingester.admitted, 1)
}

func TestConsumeClaimDoesNotRetryRejections(t *testing.T) {
	ingester := &fakeIngester{errs: []error{domain.NewValidationError([]string{"Score exceeds actual value"})}}
	session := runClaim(t, ingester, scoreMessage(t, 9, domain.ScoreMessage{PlayerID: "alice", Category: "gold", Value: 1e9}))

	assert.Equal(t, 1, ingester.calls)
	assert.Empty(t, ingester.admitted)
	assert.Equal(t, []int64{9}, session.marked)
}

func TestIngestGivesUpAfterRetryBudget(t *testing.T) {
	boom := errors.New("store unavailable")
	ingester := &fakeIngester{errs: []error{boom, boom, boom, boom}}
	c := newConsumer(testConfig(), ingester, nil, testLogger())

	err := c.ingest(context.Background(), domain.ScoreMessage{PlayerID: "alice", Category: "gold"})
	assert.ErrorIs(t, err, boom)
	// RetryAttempts of 2 allows three calls
	assert.Equal(t, 3, ingester.calls)
}

type fakeGroup struct {
	mu         sync.Mutex
	consumeErr error
	calls      int
	closed     bool
	errs       chan error
}

func newFakeGroup(consumeErr error) *fakeGroup {
	return &fakeGroup{consumeErr: consumeErr, errs: make(chan error)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.calls++
	err := g.consumeErr
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if err := handler.Setup(&fakeSession{ctx: ctx}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Pause(map[string][]int32) {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll() {}
func (g *fakeGroup) ResumeAll() {}

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGroup) state() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.closed
}

func TestStartReturnsOnceSessionIsReady(t *testing.T) {
	group := newFakeGroup(nil)
	c := newConsumer(testConfig(), &fakeIngester{}, group, testLogger())

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())

	calls, closed := group.state()
	assert.Equal(t, 1, calls)
	assert.True(t, closed)
}

func TestStartGivesUpWhenConsumeKeepsFailing(t *testing.T) {
	cfg := testConfig()
	cfg.StartupTimeout = 250 * time.Millisecond
	group := newFakeGroup(errors.New("unknown topic"))
	c := newConsumer(cfg, &fakeIngester{}, group, testLogger())

	done := make(chan error, 1)
	go func() { done <- c.Start() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStartupTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	calls, closed := group.state()
	assert.True(t, closed)
	assert.GreaterOrEqual(t, calls, 1)
	// failures are spaced by the backoff, not retried in a tight loop
	assert.LessOrEqual(t, calls, 5)
}
