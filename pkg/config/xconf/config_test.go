package xconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrySection struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	Multiplier  float64       `koanf:"multiplier"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_YAML(t *testing.T) {
	path := writeFile(t, "app.yaml", "sites:\n  llm:\n    max_attempts: 3\n    base_delay: 1s\n    multiplier: 2\n")

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, cfg.Format())
	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, 3, cfg.Client().Int("sites.llm.max_attempts"))

	var s retrySection
	require.NoError(t, cfg.Unmarshal("sites.llm", &s))
	assert.Equal(t, retrySection{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}, s)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = New("config.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = New(writeFile(t, "bad.json", "{not json"))
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestNewFromBytes(t *testing.T) {
	cfg, err := NewFromBytes([]byte(`{"a":{"b":"x"}}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Client().String("a.b"))
	assert.Empty(t, cfg.Path())
	assert.ErrorIs(t, cfg.Reload(), ErrNotFileBacked)

	empty, err := NewFromBytes(nil, FormatYAML)
	require.NoError(t, err)
	var s retrySection
	require.NoError(t, empty.Unmarshal("", &s))
	assert.Zero(t, s)

	_, err = NewFromBytes(nil, "toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestUnmarshal_Failure(t *testing.T) {
	cfg, err := NewFromBytes([]byte("max_attempts: [1, 2]\n"), FormatYAML)
	require.NoError(t, err)
	var s retrySection
	assert.ErrorIs(t, cfg.Unmarshal("", &s), ErrUnmarshalFailed)
}

func TestReload_KeepsOldOnParseError(t *testing.T) {
	path := writeFile(t, "app.yml", "value: 1\n")
	cfg, err := New(path, WithDelim("/"), WithTag("koanf"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("value: 2\n"), 0o600))
	require.NoError(t, cfg.Reload())
	assert.Equal(t, 2, cfg.Client().Int("value"))

	require.NoError(t, os.WriteFile(path, []byte("value: [unclosed\n"), 0o600))
	assert.ErrorIs(t, cfg.Reload(), ErrParseFailed)
	assert.Equal(t, 2, cfg.Client().Int("value"))
}

func TestDetectFormat(t *testing.T) {
	for path, want := range map[string]Format{"a.yaml": FormatYAML, "a.YML": FormatYAML, "a.json": FormatJSON} {
		got, err := DetectFormat(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
