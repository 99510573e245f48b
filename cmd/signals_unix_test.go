//go:build unix

package cmd

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestPauseRequest(t *testing.T) {
	tests := []struct {
		sig    os.Signal
		paused bool
		ok     bool
	}{
		{syscall.SIGUSR1, true, true},
		{syscall.SIGUSR2, false, true},
		{syscall.SIGHUP, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			paused, ok := pauseRequest(tt.sig)
			if paused != tt.paused || ok != tt.ok {
				t.Errorf("pauseRequest(%v) = %v, %v, want %v, %v", tt.sig, paused, ok, tt.paused, tt.ok)
			}
		})
	}
}

func TestWatchPauseSignals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal)

	var (
		mu  sync.Mutex
		got []bool
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchPauseSignals(ctx, sigs, func(paused bool) {
			mu.Lock()
			got = append(got, paused)
			mu.Unlock()
		})
	}()

	sigs <- syscall.SIGUSR1
	sigs <- syscall.SIGHUP
	sigs <- syscall.SIGUSR2
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchPauseSignals did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("pause calls = %v, want [true false]", got)
	}
}
