package connection

import (
	"testing"
	"time"
)

func TestReconnectScheduler_Exponential(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.ReconnectInterval = time.Second
	cfg.MaxReconnectInterval = 30 * time.Second
	cfg.ReconnectAttempts = 0

	s := newReconnectScheduler(cfg)

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		got, ok := s.next()
		if !ok {
			t.Fatalf("attempt %d: scheduler exhausted", i+1)
		}
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
		if s.attempts != i+1 {
			t.Errorf("attempt %d: attempts = %d", i+1, s.attempts)
		}
	}
}

func TestReconnectScheduler_Linear(t *testing.T) {
	tests := []struct {
		name string
		max  time.Duration
		want []time.Duration
	}{
		{
			name: "uncapped",
			want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond},
		},
		{
			name: "capped",
			max:  250 * time.Millisecond,
			want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultManagerConfig()
			cfg.ReconnectBackoff = BackoffLinear
			cfg.ReconnectInterval = 100 * time.Millisecond
			cfg.MaxReconnectInterval = tt.max
			cfg.ReconnectAttempts = 0

			s := newReconnectScheduler(cfg)
			for i, w := range tt.want {
				got, _ := s.next()
				if got != w {
					t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
				}
			}
		})
	}
}

func TestReconnectScheduler_AttemptCap(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.ReconnectAttempts = 3

	s := newReconnectScheduler(cfg)
	for i := 0; i < 3; i++ {
		if _, ok := s.next(); !ok {
			t.Fatalf("attempt %d refused", i+1)
		}
	}

	if _, ok := s.next(); ok {
		t.Error("fourth attempt should be refused")
	}
	if s.attempts != 3 {
		t.Errorf("attempts = %d, want 3", s.attempts)
	}
}

func TestReconnectScheduler_Reset(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.ReconnectInterval = time.Second

	s := newReconnectScheduler(cfg)
	s.next()
	s.next()
	s.next()

	s.reset()
	if s.attempts != 0 {
		t.Errorf("attempts after reset = %d, want 0", s.attempts)
	}

	d, ok := s.next()
	if !ok || d != time.Second {
		t.Errorf("first delay after reset = %v (ok=%v), want 1s", d, ok)
	}
}
