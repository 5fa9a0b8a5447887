package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunsTotal.WithLabelValues("chat", "ok").Inc()
	m.Claims.WithLabelValues("won").Add(2)
	m.ActiveSandboxes.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("chat", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Claims.WithLabelValues("won")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hermit_sandbox_runs_total"])
	assert.True(t, names["hermit_sandboxes_active"])
}

func TestNew_NilRegistry(t *testing.T) {
	a := New(nil)
	b := New(nil)
	assert.NotSame(t, a.RunsTotal, b.RunsTotal)
}
