package devlock

import (
	"sync"
	"testing"
)

func TestArena_SerialisesSameDevice(t *testing.T) {
	arena := NewArena()

	var counter int
	var wg sync.WaitGroup
	const iterations = 200

	for i := 0; i < iterations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := arena.Lock("dev-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != iterations {
		t.Errorf("counter = %d, want %d (lost updates)", counter, iterations)
	}
	if arena.Len() != 1 {
		t.Errorf("Len() = %d, want 1", arena.Len())
	}
}

func TestArena_IndependentDevices(t *testing.T) {
	arena := NewArena()

	// Hold dev-1's lock; dev-2 must still be acquirable.
	unlock1 := arena.Lock("dev-1")
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := arena.Lock("dev-2")
		unlock2()
		close(done)
	}()

	<-done

	if arena.Len() != 2 {
		t.Errorf("Len() = %d, want 2", arena.Len())
	}
}

func TestArena_ReusesMutexPerDevice(t *testing.T) {
	arena := NewArena()

	unlock := arena.Lock("dev-1")
	unlock()
	unlock = arena.Lock("dev-1")
	unlock()

	if arena.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after repeated locks", arena.Len())
	}
}
