package xfault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		conn Connectivity
		want Kind
	}{
		{"Nil", nil, nil, KindUnknown},
		{"Structured", New(KindRemoteAPI, CodeUnavailable, "down"), nil, KindRemoteAPI},
		{"WrappedStructured", fmt.Errorf("call: %w", New(KindRateLimited, "", "")), nil, KindRateLimited},
		{"Deadline", context.DeadlineExceeded, nil, KindTimeout},
		{"Timeout", fmt.Errorf("x: %w", ErrTimeout), nil, KindTimeout},
		{"ConnRefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), nil, KindNetwork},
		{"OpError", &net.OpError{Op: "dial", Err: errors.New("refused")}, nil, KindNetwork},
		{"DNS", &net.DNSError{Err: "no such host", Name: "x"}, nil, KindNetwork},
		{"PlainOnline", errors.New("weird"), staticConn(true), KindUnknown},
		{"PlainOffline", errors.New("weird"), staticConn(false), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier{Network: tt.conn}.Classify(tt.err))
		})
	}
}

func TestPhraseClassifier(t *testing.T) {
	c := PhraseClassifier{
		Phrases: []Phrase{
			{Substring: "Rate Limit", Kind: KindRateLimited},
			{Substring: "network", Kind: KindNetwork},
		},
		Next: DefaultClassifier{},
	}
	assert.Equal(t, KindRateLimited, c.Classify(errors.New("rate limit exceeded")))
	assert.Equal(t, KindNetwork, c.Classify(errors.New("Network unreachable")))
	assert.Equal(t, KindValidation, c.Classify(New(KindValidation, "", "rate limit")))
	assert.Equal(t, KindTimeout, c.Classify(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, PhraseClassifier{}.Classify(errors.New("x")))
}

func TestKind(t *testing.T) {
	for _, k := range []Kind{KindUnknown, KindNetwork, KindRateLimited, KindValidation, KindTimeout, KindRemoteAPI} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	k, err := ParseKind(" Rate-Limited ")
	require.NoError(t, err)
	assert.Equal(t, KindRateLimited, k)

	_, err = ParseKind("meltdown")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "Kind(42)", Kind(42).String())

	assert.False(t, KindValidation.Retriable())
	assert.True(t, KindNetwork.Retriable())
}

func TestError(t *testing.T) {
	base := errors.New("upstream 503")
	e := Wrap(base, KindRemoteAPI, CodeUnavailable)

	assert.Equal(t, "upstream 503 [remote_api/unavailable]", e.Error())
	assert.ErrorIs(t, e, base)
	assert.True(t, e.Retryable())
	assert.Nil(t, Wrap(nil, KindNetwork, ""))

	e.Permanent = true
	assert.False(t, e.Retryable())
	assert.False(t, New(KindValidation, "", "bad").Retryable())
	assert.Equal(t, "unexpected failure [unknown]", (&Error{}).Error())

	resetAt := time.Unix(1700000000, 0)
	rl := fmt.Errorf("wrapped: %w", RateLimited(nil, resetAt))
	got, ok := ResetAtOf(rl)
	assert.True(t, ok)
	assert.Equal(t, resetAt, got)
	assert.Equal(t, CodeRateLimitExceeded, CodeOf(rl))
	assert.Empty(t, CodeOf(base))
	_, ok = ResetAtOf(base)
	assert.False(t, ok)
}
