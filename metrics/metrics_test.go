package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	t.Run("concurrent updates are all counted", func(t *testing.T) {
		c := NewCollector(prometheus.NewRegistry())
		c.Start()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					c.AddPlayout(j, j%5 != 0)
					c.AddCheck(time.Millisecond)
				}
			}()
		}
		wg.Wait()
		c.AddExpansion()
		c.AddCandidate()
		c.AddDropped()
		c.AddIteration(true)
		c.AddIteration(false)

		m := c.Complete()
		require.Equal(t, 80, m.Playouts)
		require.Equal(t, 16, m.NonTerminating)
		require.Equal(t, 80, m.Checks)
		require.Equal(t, 2, m.Iterations)
		require.Equal(t, 1, m.Edits)
		require.Equal(t, 1, m.Expansions)
	})

	t.Run("dummy collector records nothing", func(t *testing.T) {
		c := NewDummyCollector()
		c.AddPlayout(3, false)
		require.Equal(t, RunMetric{}, c.Complete())
	})
}

func TestWriter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.AddPlayout(7, true)

	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.WritePlayoutRecords([]PlayoutRecord{{Index: 0, Length: 7, Terminal: true, Class: "o=0,x=1"}}))
	data, err := os.ReadFile(filepath.Join(w.Dir(), "playouts.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `0,7,true,false,false,false,false,"o=0,x=1"`, lines[1])

	require.NoError(t, w.WriteRefinementRecords([]RefinementRecord{{Candidate: 1, Iteration: 2, Edit: "add score", Before: 3, After: 0, Applied: true}}))
	require.NoError(t, w.WriteRunMetric(c.Complete()))

	require.NoError(t, w.WritePrometheus(reg))
	data, err = os.ReadFile(filepath.Join(w.Dir(), "metrics.prom"))
	require.NoError(t, err)
	require.Contains(t, string(data), `ggp_playouts_total{terminating="true"} 1`)
}
