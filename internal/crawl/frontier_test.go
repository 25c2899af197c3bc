package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontierPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Push("https://example.com/other-1", PriorityOther)
	f.Push("https://example.com/", PrioritySeed)
	f.Push("https://example.com/include-1", PriorityInclude)
	f.Push("https://example.com/other-2", PriorityOther)
	f.Push("https://example.com/include-2", PriorityInclude)

	want := []string{
		"https://example.com/",
		"https://example.com/include-1",
		"https://example.com/include-2",
		"https://example.com/other-1",
		"https://example.com/other-2",
	}
	for _, url := range want {
		item, ok := f.Pop()
		require.True(t, ok)
		assert.Equal(t, url, item.URL)
		f.Done()
	}
	_, ok := f.Pop()
	assert.False(t, ok, "drained frontier must return ok=false")
}

func TestFrontierPopBlocksWhileInflight(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Push("https://example.com/a", PrioritySeed)

	first, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "https://example.com/a", first.URL)

	// A second worker blocks: queue is empty but /a may still discover links.
	got := make(chan string, 1)
	go func() {
		item, popOK := f.Pop()
		if !popOK {
			got <- ""
			return
		}
		f.Done()
		got <- item.URL
	}()

	select {
	case url := <-got:
		t.Fatalf("Pop returned %q before discovery finished", url)
	case <-time.After(50 * time.Millisecond):
	}

	f.Push("https://example.com/b", PriorityOther)
	f.Done()

	select {
	case url := <-got:
		assert.Equal(t, "https://example.com/b", url)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestFrontierDrainReleasesAllWaiters(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Push("https://example.com/a", PrioritySeed)

	_, ok := f.Pop()
	require.True(t, ok)

	done := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, popOK := f.Pop()
			done <- popOK
		}()
	}

	// Last in-flight item finishes without discovering anything.
	f.Done()

	for i := 0; i < 2; i++ {
		select {
		case popOK := <-done:
			assert.False(t, popOK)
		case <-time.After(time.Second):
			t.Fatal("waiter did not release on drain")
		}
	}
}

func TestFrontierStop(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.Push("https://example.com/a", PrioritySeed)
	f.Stop()

	_, ok := f.Pop()
	assert.False(t, ok)

	// Pushes after Stop are ignored.
	f.Push("https://example.com/b", PrioritySeed)
	assert.Equal(t, 1, f.Len())
	_, ok = f.Pop()
	assert.False(t, ok)
}
