package kafkaqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeRunner struct {
	mu   sync.Mutex
	seen []uint64
	err  error
	wait bool
}

func (f *fakeRunner) Run(ctx context.Context, layerID uint64) error {
	f.mu.Lock()
	f.seen = append(f.seen, layerID)
	f.mu.Unlock()
	if f.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeRunner) layers() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.seen...)
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "geolayer-ingest" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func jobMessage(t *testing.T, off int64, j Job) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(j)
	if err != nil {
		t.Fatal(err)
	}
	return &sarama.ConsumerMessage{Topic: "geolayer-ingest", Offset: off, Timestamp: time.Now(), Value: b}
}

func newTestConsumer(r JobRunner) (*Consumer, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	c := NewConsumer(Config{Brokers: []string{"x"}, Topic: "geolayer-ingest", GroupID: "g"}, r, Options{Register: reg})
	return c, reg
}

func TestConsumeClaim_RunsInOrderAndMarksAfterRun(t *testing.T) {
	fr := &fakeRunner{}
	c, _ := newTestConsumer(fr)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- jobMessage(t, 10, NewJob(7, time.Now()))
	ch <- jobMessage(t, 11, NewJob(8, time.Now()))
	close(ch)

	if err := c.handler().ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if got := fr.layers(); len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("runs=%v want [7 8]", got)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestConsumeClaim_FailedJobIsStillMarked(t *testing.T) {
	fr := &fakeRunner{err: errors.New("transform: unsupported CRS")}
	c, reg := newTestConsumer(fr)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- jobMessage(t, 3, NewJob(7, time.Now()))
	close(ch)

	if err := c.handler().ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 1 {
		t.Fatalf("exhausted job must be marked; marked=%v", s.marked)
	}
	if v := testutil.ToFloat64(c.ms.msgs.WithLabelValues("failed")); v != 1 {
		t.Fatalf("failed count=%v want 1", v)
	}
	if n, err := testutil.GatherAndCount(reg, "ingest_jobs_msgs_total"); err != nil || n != 1 {
		t.Fatalf("gathered series=%d err=%v", n, err)
	}
}

func TestConsumeClaim_SkipsUndecodableAndDuplicates(t *testing.T) {
	fr := &fakeRunner{}
	c, _ := newTestConsumer(fr)
	s := &sess{ctx: t.Context()}
	dup := NewJob(5, time.Now())
	ch := make(chan *sarama.ConsumerMessage, 4)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"job_id":"a"}`)}
	ch <- jobMessage(t, 3, dup)
	ch <- jobMessage(t, 4, dup)
	close(ch)

	if err := c.handler().ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if got := fr.layers(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("runs=%v want [5]", got)
	}
	if len(s.marked) != 4 {
		t.Fatalf("every message must be marked; marked=%v", s.marked)
	}
}

func TestConsumeClaim_ShutdownLeavesMessageUnmarked(t *testing.T) {
	fr := &fakeRunner{wait: true}
	c, _ := newTestConsumer(fr)
	ctx, cancel := context.WithCancel(context.Background())
	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- jobMessage(t, 9, NewJob(1, time.Now()))

	done := make(chan error, 1)
	go func() { done <- c.handler().ConsumeClaim(s, &claim{msgs: ch}) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("ConsumeClaim err=%v want canceled", err)
	}
	if len(s.marked) != 0 {
		t.Fatalf("interrupted job must not be marked; marked=%v", s.marked)
	}
}

func TestReadiness_FollowsAssignment(t *testing.T) {
	c, _ := newTestConsumer(&fakeRunner{})
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("not ready before assignment")
	}
	h := c.handler()
	s := &sess{ctx: t.Context(), claims: map[string][]int32{"geolayer-ingest": {0, 2}}}
	_ = h.Setup(s)
	ok, parts := c.Readiness()
	if !ok || len(parts) != 2 {
		t.Fatalf("ready=%v parts=%v", ok, parts)
	}
	_ = h.Cleanup(s)
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("not ready after cleanup")
	}
}

func TestJobValidate(t *testing.T) {
	if _, err := decodeJob([]byte(`{"job_id":"x","layer_id":0}`)); err == nil {
		t.Fatalf("layer_id 0 must be rejected")
	}
	j := NewJob(42, time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("WIB", 7*3600)))
	if j.Key() != "42" || j.RequestedAt.Location() != time.UTC || j.JobID == "" {
		t.Fatalf("unexpected job %+v", j)
	}
}
