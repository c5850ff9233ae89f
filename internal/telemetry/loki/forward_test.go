package loki

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/segmentio/kafka-go"
)

// sliceReader serves msgs, then blocks until ctx is done.
type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	drained   chan struct{}
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *sliceReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.msgs) == 0 && r.drained != nil {
		close(r.drained)
		r.drained = nil
	}
	return nil
}

func TestForward_PushesAndCommits(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	drained := make(chan struct{})
	r := &sliceReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"eventType":"mfa_required","userId":"u1"}`)},
			{Offset: 2, Value: []byte(`{"eventType":"session_registered","userId":"u1"}`)},
		},
		drained: drained,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Forward(ctx, r, NewClient(srv.URL, nil)) }()

	<-drained
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Forward returned %v, want context.Canceled", err)
	}
	if pushes.Load() != 2 {
		t.Errorf("pushes = %d, want 2", pushes.Load())
	}
	if len(r.committed) != 2 || r.committed[0] != 1 || r.committed[1] != 2 {
		t.Errorf("committed = %v, want [1 2]", r.committed)
	}
}

func TestForward_FailingPushIsRetriedThenCommitted(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	drained := make(chan struct{})
	r := &sliceReader{msgs: []kafka.Message{{Offset: 7, Value: []byte(`not json`)}}, drained: drained}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Forward(ctx, r, NewClient(srv.URL, nil)) }()

	<-drained
	cancel()
	<-done
	if pushes.Load() != pushAttempts {
		t.Errorf("pushes = %d, want %d", pushes.Load(), pushAttempts)
	}
	if len(r.committed) != 1 {
		t.Errorf("committed = %v, want the poisoned offset committed", r.committed)
	}
}
