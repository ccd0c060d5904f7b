package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saiintbrisson/ringlb/internal/target"
)

func mustResolve(t *testing.T, addr string) *target.Target {
	t.Helper()
	tgt, err := target.Resolve(addr, target.Options{})
	require.NoError(t, err)
	return tgt
}

func TestRoundRobinAlternates(t *testing.T) {
	targets := []*target.Target{
		mustResolve(t, "127.0.0.1:9001"),
		mustResolve(t, "127.0.0.1:9002"),
	}
	p := NewPicker(targets, StrategyRoundRobin)

	// Four sequential selections route T1, T2, T1, T2.
	wantPorts := []int{9001, 9002, 9001, 9002}
	for i, want := range wantPorts {
		addr, _, err := p.Next()
		require.NoError(t, err)
		require.Equal(t, want, addr.Port, "selection %d", i)
	}
}

func TestRoundRobinFairness(t *testing.T) {
	targets := []*target.Target{
		mustResolve(t, "127.0.0.1:9001"),
		mustResolve(t, "127.0.0.1:9002"),
		mustResolve(t, "127.0.0.1:9003"),
	}
	p := NewPicker(targets, StrategyRoundRobin)

	const n = 1000
	counts := map[int]int{}
	for i := 0; i < n; i++ {
		addr, _, err := p.Next()
		require.NoError(t, err)
		counts[addr.Port]++
	}

	// Each of the K targets receives floor(N/K) or ceil(N/K) selections.
	for port, c := range counts {
		require.True(t, c == n/3 || c == n/3+1,
			"port %d selected %d times, want %d or %d", port, c, n/3, n/3+1)
	}
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	targets := []*target.Target{
		mustResolve(t, "127.0.0.1:9001"),
		mustResolve(t, "127.0.0.1:9002"),
	}
	targets[0].Suspend(time.Hour)
	p := NewPicker(targets, StrategyRoundRobin)

	for i := 0; i < 4; i++ {
		addr, _, err := p.Next()
		require.NoError(t, err)
		require.Equal(t, 9002, addr.Port)
	}
}

func TestRoundRobinSkipsNonIPv4(t *testing.T) {
	targets := []*target.Target{
		mustResolve(t, "[::1]:9001"),
		mustResolve(t, "127.0.0.1:9002"),
	}
	p := NewPicker(targets, StrategyRoundRobin)

	for i := 0; i < 4; i++ {
		addr, _, err := p.Next()
		require.NoError(t, err)
		require.Equal(t, 9002, addr.Port)
	}
}

func TestRoundRobinAllUnavailable(t *testing.T) {
	targets := []*target.Target{
		mustResolve(t, "127.0.0.1:9001"),
		mustResolve(t, "127.0.0.1:9002"),
	}
	targets[0].Suspend(time.Hour)
	targets[1].Suspend(time.Hour)
	p := NewPicker(targets, StrategyRoundRobin)

	_, _, err := p.Next()
	require.ErrorIs(t, err, ErrNoAvailableTarget)
}

func TestLeastConnectionIsStub(t *testing.T) {
	p := NewPicker([]*target.Target{mustResolve(t, "127.0.0.1:9001")}, StrategyLeastConnection)
	_, _, err := p.Next()
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestNextWrapping(t *testing.T) {
	var rr RoundRobin
	for i := 0; i < 10; i++ {
		require.Equal(t, i%3, rr.NextWrapping(3))
	}
}

func TestStrategyString(t *testing.T) {
	require.Equal(t, "round-robin", StrategyRoundRobin.String())
	require.Equal(t, "least-connection", StrategyLeastConnection.String())
}
