package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer 并发安全的输出缓冲
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "funnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut syncBuffer
	code = run(context.Background(), append([]string{"funnelctl"}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestDelays(t *testing.T) {
	code, out, _ := runCLI(t, "delays", "--site", "store")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "site store: max_attempts=3 base=200ms multiplier=2 max=2s jitter=false timeout=5s")
	assert.Contains(t, out, "retry 1: wait 200ms\nretry 2: wait 400ms\nretry 3: wait 800ms\ntotal wait: 1.4s\n")
}

func TestDelays_FromConfig(t *testing.T) {
	path := writeConfig(t, `
sites:
  checkout:
    max_attempts: 4
    base_delay: 1s
    multiplier: 2
    max_delay: 5s
`)
	code, out, _ := runCLI(t, "-c", path, "delays", "--site", "checkout")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "retry 4: wait 5s\ntotal wait: 12s\n")
}

func TestUsageErrors(t *testing.T) {
	code, _, errOut := runCLI(t, "delays", "--site", "nope")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown site")

	code, _, _ = runCLI(t, "delays", "--bogus")
	assert.Equal(t, 2, code)

	code, _, errOut = runCLI(t, "generate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--prompt or --product")

	code, _, _ = runCLI(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "delays")
	assert.Equal(t, 1, code)
}

func llmConfig(baseURL string) string {
	return fmt.Sprintf(`
llm:
  base_url: %s/v1
  api_key_env: FUNNELCTL_TEST_KEY
sites:
  llm:
    max_attempts: 2
    base_delay: 10ms
    multiplier: 2
    max_delay: 20ms
    timeout: 5s
`, baseURL)
}

func TestGenerate(t *testing.T) {
	t.Setenv("FUNNELCTL_TEST_KEY", "sk-test")
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"Start your trial today"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	path := writeConfig(t, llmConfig(srv.URL))
	code, out, errOut := runCLI(t, "-c", path, "generate", "--product", "Focus app", "--step", "landing")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Start your trial today\n", out)
	assert.Equal(t, 2, calls)
}

func TestGenerate_AuthFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	path := writeConfig(t, llmConfig(srv.URL))
	code, _, errOut := runCLI(t, "-c", path, "generate", "--prompt", "hello")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "the AI provider rejected the credentials (remote_api/auth_failed)")
	assert.Equal(t, 1, calls)
}

func TestStore(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeConfig(t, fmt.Sprintf("redis:\n  addr: %s\n  prefix: test\n", mr.Addr()))

	code, out, errOut := runCLI(t, "-c", path, "store", "put", "--table", "funnels", "-f", "name=launch", "-f", "steps=3")
	require.Equal(t, 0, code, errOut)
	id := strings.TrimSpace(out)
	assert.True(t, mr.Exists("test:funnels:"+id))

	code, out, _ = runCLI(t, "-c", path, "store", "get", "--table", "funnels", "--id", id)
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"name": "launch"`)
	assert.Contains(t, out, `"steps": 3`)

	code, out, _ = runCLI(t, "-c", path, "store", "put", "--table", "funnels", "--id", id, "-f", "name=relaunch")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"name": "relaunch"`)

	code, out, _ = runCLI(t, "-c", path, "store", "list", "--table", "funnels")
	require.Equal(t, 0, code)
	assert.Contains(t, out, id)

	code, _, _ = runCLI(t, "-c", path, "store", "del", "--table", "funnels", "--id", id)
	require.Equal(t, 0, code)

	code, _, errOut = runCLI(t, "-c", path, "store", "get", "--table", "funnels", "--id", id)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not_found")

	code, _, _ = runCLI(t, "-c", path, "store", "get", "--table", "funnels")
	assert.Equal(t, 2, code)
	code, _, _ = runCLI(t, "-c", path, "store", "put", "--table", "funnels", "-f", "novalue")
	assert.Equal(t, 2, code)
}

func TestParseFields(t *testing.T) {
	row, err := parseFields([]string{"n=1", "ok=true", "s=hello", "j={\"a\":1}", "e="})
	require.NoError(t, err)
	assert.Equal(t, float64(1), row["n"])
	assert.Equal(t, true, row["ok"])
	assert.Equal(t, "hello", row["s"])
	assert.Equal(t, map[string]any{"a": float64(1)}, row["j"])
	assert.Equal(t, "", row["e"])

	_, err = parseFields([]string{"=x"})
	var ue *usageError
	assert.ErrorAs(t, err, &ue)
}

func TestWatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	config := fmt.Sprintf("network:\n  probe_addr: %s\n  interval: 1h\n", ln.Addr())
	path := writeConfig(t, config)

	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut syncBuffer
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"funnelctl", "-c", path, "watch"}, &out, &errOut) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "network online=true quality=normal")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(config+"sites:\n  extra:\n    max_attempts: 1\n    base_delay: 1s\n    multiplier: 2\n    max_delay: 1s\n"), 0o600))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "config reloaded: sites=extra,llm,store")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code, errOut.String())
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
