package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		ProjectID: "0198f2a0-0000-7000-8000-000000000001",
		TS:        time.Unix(0, 0),
		Stage:     StageRunStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals processed pages.
func ExampleSink() {
	type pagesSink struct {
		pages int
	}
	var s pagesSink
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StagePhaseDone {
				s.pages += evt.Done
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		ProjectID: "0198f2a0-0000-7000-8000-000000000002",
		TS:        time.Unix(0, 0),
		Stage:     StagePhaseDone,
		Phase:     pipeline.PhaseCrawl,
		Done:      42,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages processed: %d\n", s.pages)
	// Output:
	// pages processed: 42
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
