package canvas

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveWithoutMultiplexer(t *testing.T) {
	r := &PaneResolver{
		ClientPIDs: func() ([]int, error) { return nil, nil },
		Ancestors: func(int) ([]int, error) {
			t.Fatal("Ancestors called without multiplexer clients")
			return nil, nil
		},
		PidWindows: func() (map[int]xproto.Window, error) {
			t.Fatal("PidWindows called without multiplexer clients")
			return nil, nil
		},
		Logger: discardLogger(),
	}

	got, err := r.Resolve(55)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Resolve()=%v, want singleton", got)
	}
	if _, ok := got[55]; !ok {
		t.Fatalf("Resolve()=%v missing terminal window 55", got)
	}
}

func TestResolveMultiplexerPanes(t *testing.T) {
	// Two clients whose ancestor chains hit two distinct terminal
	// windows; a third client duplicates the first match.
	ancestry := map[int][]int{
		100: {100, 90, 80},   // 80 owns window 7001
		200: {200, 190, 180}, // 180 owns window 7002
		300: {300, 90, 80},   // duplicate of the first
	}
	r := &PaneResolver{
		ClientPIDs: func() ([]int, error) { return []int{100, 200, 300}, nil },
		Ancestors: func(pid int) ([]int, error) {
			chain, ok := ancestry[pid]
			if !ok {
				return nil, fmt.Errorf("pid %d not found", pid)
			}
			return chain, nil
		},
		PidWindows: func() (map[int]xproto.Window, error) {
			return map[int]xproto.Window{80: 7001, 180: 7002, 999: 7999}, nil
		},
		Logger: discardLogger(),
	}

	got, err := r.Resolve(55)
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	want := []xproto.Window{55, 7001, 7002}
	if len(got) != len(want) {
		t.Fatalf("Resolve()=%v, want %v", got, want)
	}
	for _, w := range want {
		if _, ok := got[w]; !ok {
			t.Errorf("Resolve()=%v missing window %d", got, w)
		}
	}
}

func TestResolveSurvivesCollaboratorFailures(t *testing.T) {
	cases := []struct {
		name string
		r    *PaneResolver
	}{
		{
			name: "client discovery fails",
			r: &PaneResolver{
				ClientPIDs: func() ([]int, error) { return nil, fmt.Errorf("tmux exploded") },
			},
		},
		{
			name: "pid map fails",
			r: &PaneResolver{
				ClientPIDs: func() ([]int, error) { return []int{100}, nil },
				PidWindows: func() (map[int]xproto.Window, error) {
					return nil, fmt.Errorf("no X server")
				},
			},
		},
		{
			name: "ancestry fails per pid",
			r: &PaneResolver{
				ClientPIDs: func() ([]int, error) { return []int{100}, nil },
				PidWindows: func() (map[int]xproto.Window, error) {
					return map[int]xproto.Window{80: 7001}, nil
				},
				Ancestors: func(int) ([]int, error) { return nil, fmt.Errorf("gone") },
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.r.Logger = discardLogger()
			got, err := tc.r.Resolve(55)
			if err != nil {
				t.Fatalf("Resolve() err=%v", err)
			}
			if len(got) != 1 {
				t.Fatalf("Resolve()=%v, want just the terminal window", got)
			}
			if _, ok := got[55]; !ok {
				t.Fatalf("Resolve()=%v missing terminal window", got)
			}
		})
	}
}
