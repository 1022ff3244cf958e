package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/z-wentao/okoshi/pkg/models"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, &models.TranscriptionJob{JobID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job.JobID != want {
			t.Fatalf("dequeued %s, want %s", job.JobID, want)
		}
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, &models.TranscriptionJob{JobID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, &models.TranscriptionJob{JobID: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("error = %v, want ErrQueueFull", err)
	}
}

func TestMemoryQueueNackRequeue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)
	job := &models.TranscriptionJob{JobID: "a"}
	q.Enqueue(ctx, job)
	got, _ := q.Dequeue(ctx)

	if err := q.Nack(got, false); err != nil || q.Len() != 0 {
		t.Fatalf("nack without requeue: err=%v len=%d", err, q.Len())
	}
	if err := q.Nack(got, true); err != nil || q.Len() != 1 {
		t.Fatalf("nack with requeue: err=%v len=%d", err, q.Len())
	}
	if err := q.Ack(got); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryQueueDequeueUnblocks(t *testing.T) {
	q := NewMemoryQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("error = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}

	if err := q.Enqueue(context.Background(), &models.TranscriptionJob{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close = %v", err)
	}
}
