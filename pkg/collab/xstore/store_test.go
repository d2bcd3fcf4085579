package xstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
	"github.com/omeyang/xfunnel/pkg/resilience/xretry"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s, err := New(client, WithPrefix("test"))
	require.NoError(t, err)
	return mr, s
}

func TestStore_CRUD(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "funnels", Row{"name": "launch", "steps": float64(3)})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:funnels:"+id))

	row, err := s.Get(ctx, "funnels", id)
	require.NoError(t, err)
	assert.Equal(t, Row{"id": id, "name": "launch", "steps": float64(3)}, row)

	row, err = s.Update(ctx, "funnels", id, Row{"steps": float64(4), "id": "hijack"})
	require.NoError(t, err)
	assert.Equal(t, float64(4), row["steps"])
	assert.Equal(t, id, row["id"])

	row, err = s.Get(ctx, "funnels", id)
	require.NoError(t, err)
	assert.Equal(t, "launch", row["name"])
	assert.Equal(t, float64(4), row["steps"])

	require.NoError(t, s.Delete(ctx, "funnels", id))
	_, err = s.Get(ctx, "funnels", id)
	assert.Equal(t, xfault.CodeNotFound, xfault.CodeOf(err))
	assert.False(t, xretry.IsRetryable(err))
}

func TestStore_NotFound(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.Get(ctx, "funnels", id)
	var fe *xfault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, xfault.KindRemoteAPI, fe.Kind)
	assert.True(t, fe.Permanent)
	assert.Equal(t, "funnels row not found", fe.Message)

	_, err = s.Update(ctx, "funnels", id, Row{"a": 1})
	assert.Equal(t, xfault.CodeNotFound, xfault.CodeOf(err))

	err = s.Delete(ctx, "funnels", id)
	assert.Equal(t, xfault.CodeNotFound, xfault.CodeOf(err))
}

func TestStore_List(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.List(ctx, "pages")
	require.NoError(t, err)
	assert.Empty(t, rows)

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		id, err := s.Insert(ctx, "pages", Row{"title": title})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// 索引中残留的 id 被跳过
	mr.Del("test:pages:" + ids[1])

	rows, err = s.List(ctx, "pages")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.NotEqual(t, ids[1], r["id"])
	}
	assert.Less(t, rows[0]["id"].(string), rows[1]["id"].(string))
}

func TestStore_Validation(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "bad:table", Row{})
	assert.ErrorIs(t, err, ErrInvalidTable)
	assert.True(t, xfault.IsKind(err, xfault.KindValidation))

	_, err = s.Insert(ctx, "funnels", nil)
	assert.ErrorIs(t, err, ErrMalformedRow)

	_, err = s.Insert(ctx, "funnels", Row{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrMalformedRow)

	_, err = s.Get(ctx, "funnels", "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)

	id := uuid.NewString()
	require.NoError(t, mr.Set("test:funnels:"+id, "{broken"))
	_, err = s.Get(ctx, "funnels", id)
	assert.ErrorIs(t, err, ErrMalformedRow)
	assert.True(t, xfault.IsKind(err, xfault.KindValidation))

	require.NoError(t, mr.Set("test:funnels:"+id, "[1,2]"))
	_, err = s.Get(ctx, "funnels", id)
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestStore_TransientAndDown(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	mr.SetError("BUSY Redis is busy running a script")
	err := s.Ping(ctx)
	assert.True(t, xfault.IsKind(err, xfault.KindRemoteAPI))
	assert.True(t, xretry.IsRetryable(err))
	mr.SetError("")
	require.NoError(t, s.Ping(ctx))

	mr.Close()
	_, err = s.Insert(ctx, "funnels", Row{"a": 1})
	assert.True(t, xfault.IsKind(err, xfault.KindNetwork))
}

func TestNew_NilClient(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}
