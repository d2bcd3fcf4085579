package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xfunnel/internal/settings"
	"github.com/omeyang/xfunnel/pkg/config/xconf"
	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/observability/xmetrics"
	"github.com/omeyang/xfunnel/pkg/resilience/xretry"
)

func newTestRuntime(t *testing.T, s settings.Settings) (*runtime, *syncBuffer, *syncBuffer) {
	t.Helper()
	var out, logs syncBuffer
	logger, cleanup, err := xlog.New().SetOutput(&logs).SetLevelString("debug").Build()
	require.NoError(t, err)
	rt := &runtime{
		settings: s,
		logger:   logger,
		recorder: xmetrics.NoopRecorder{},
		observer: xmetrics.NoopObserver{},
		stdout:   &out,
		closers:  []func() error{cleanup},
	}
	t.Cleanup(rt.Close)
	return rt, &out, &logs
}

func TestNewGuard_UsesSitePolicyLimit(t *testing.T) {
	s := settings.Default()
	s.Fault.MaxAttempts = 1
	s.Sites["llm"] = settings.Site{
		Policy: xretry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond},
	}
	rt, _, _ := newTestRuntime(t, s)

	cfg, err := rt.current().Site("llm")
	require.NoError(t, err)
	guard := rt.newGuard("llm", cfg)
	defer guard.Close()

	ctx := context.Background()
	guard.RecordAttempt(ctx, errors.New("flaky"))
	assert.True(t, guard.CanRetry())
	guard.RecordAttempt(ctx, errors.New("flaky"))
	guard.RecordAttempt(ctx, errors.New("flaky"))
	assert.False(t, guard.CanRetry())
}

func TestRuntime_Reload(t *testing.T) {
	rt, out, logs := newTestRuntime(t, settings.Default())

	rt.reload(nil, errors.New("yaml: line 3: mapping values are not allowed"))
	assert.Contains(t, logs.String(), "config reload failed")
	assert.Equal(t, []string{"llm", "store"}, rt.current().SiteNames())

	bad, err := xconf.NewFromBytes([]byte("fault:\n  max_attempts: 0\n"), xconf.FormatYAML)
	require.NoError(t, err)
	rt.reload(bad, nil)
	assert.Contains(t, logs.String(), "reloaded config rejected")
	assert.Equal(t, 3, rt.current().Fault.MaxAttempts)

	good, err := xconf.NewFromBytes([]byte(`
log:
  level: error
sites:
  checkout:
    max_attempts: 2
    base_delay: 1s
    multiplier: 2
    max_delay: 3s
`), xconf.FormatYAML)
	require.NoError(t, err)
	rt.reload(good, nil)

	assert.Contains(t, out.String(), "config reloaded: sites=checkout,llm,store")
	p, err := rt.current().Policy("checkout")
	require.NoError(t, err)
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, xlog.LevelError, rt.logger.GetLevel())

	require.NoError(t, cmdDelays(rt, "checkout"))
	assert.Contains(t, out.String(), "retry 2: wait 2s\ntotal wait: 3s\n")
}
