package xstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xfunnel/internal/storageopt"
	"github.com/omeyang/xfunnel/pkg/observability/xlog"
	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

var (
	// ErrNilClient Redis 客户端为 nil
	ErrNilClient = errors.New("xstore: redis client cannot be nil")
	// ErrInvalidTable 表名非法
	ErrInvalidTable = errors.New("xstore: invalid table name")
	// ErrInvalidID id 不是合法 UUID
	ErrInvalidID = errors.New("xstore: invalid id")
	// ErrMalformedRow 行内容不是 JSON 对象
	ErrMalformedRow = errors.New("xstore: malformed row")
)

// DefaultPrefix 默认键前缀
const DefaultPrefix = "xfunnel"

const indexSuffix = "_ids"

// IDField 行内保存 id 的字段名
const IDField = "id"

// Row 一行数据，字段名到值的映射
type Row map[string]any

// Option 配置选项
type Option func(*Store)

// WithPrefix 设置键前缀
func WithPrefix(p string) Option {
	return func(s *Store) {
		if p != "" {
			s.prefix = p
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store Redis 行存储，并发安全
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	logger xlog.Logger
}

// New 创建存储
func New(rdb redis.UniversalClient, opts ...Option) (*Store, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	s := &Store{rdb: rdb, prefix: DefaultPrefix, logger: xlog.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(xlog.Component("xstore"))
	return s, nil
}

// Client 返回底层客户端
func (s *Store) Client() redis.UniversalClient {
	return s.rdb
}

func (s *Store) rowKey(table, id string) string {
	return s.prefix + ":" + table + ":" + id
}

func (s *Store) indexKey(table string) string {
	return s.prefix + ":" + table + ":" + indexSuffix
}

// Insert 插入一行，返回新生成的 id
func (s *Store) Insert(ctx context.Context, table string, row Row) (string, error) {
	if err := checkTable(table); err != nil {
		return "", err
	}
	if row == nil {
		return "", invalid(fmt.Errorf("%w: row is nil", ErrMalformedRow))
	}
	id := uuid.NewString()
	stored := maps.Clone(row)
	stored[IDField] = id
	data, err := encodeRow(stored)
	if err != nil {
		return "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.rowKey(table, id), data, 0)
		p.SAdd(ctx, s.indexKey(table), id)
		return nil
	})
	if err != nil {
		return "", storageopt.TranslateRedis(err, table+" row")
	}
	s.logger.Debug(ctx, "row inserted", slog.String("table", table), slog.String("id", id))
	return id, nil
}

// Get 读取一行，不存在时返回 not_found 故障
func (s *Store) Get(ctx context.Context, table, id string) (Row, error) {
	if err := checkKey(table, id); err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, s.rowKey(table, id)).Bytes()
	if err != nil {
		return nil, storageopt.TranslateRedis(err, table+" row")
	}
	return decodeRow(data)
}

// Update 合并更新一行的字段，返回更新后的完整行。id 字段不可修改。
//
// 使用 WATCH 保证读改写原子，被并发修改时返回可重试的 RemoteAPI 故障。
func (s *Store) Update(ctx context.Context, table, id string, patch Row) (Row, error) {
	if err := checkKey(table, id); err != nil {
		return nil, err
	}
	if _, err := encodeRow(patch); err != nil {
		return nil, err
	}

	key := s.rowKey(table, id)
	var merged Row
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		current, err := decodeRow(data)
		if err != nil {
			return err
		}
		maps.Copy(current, patch)
		current[IDField] = id
		out, err := encodeRow(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		merged = current
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, &xfault.Error{Kind: xfault.KindRemoteAPI, Code: xfault.CodeUnavailable, Err: err}
	}
	if err != nil {
		return nil, storageopt.TranslateRedis(err, table+" row")
	}
	return merged, nil
}

// Delete 删除一行，不存在时返回 not_found 故障
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := checkKey(table, id); err != nil {
		return err
	}
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.rowKey(table, id))
		p.SRem(ctx, s.indexKey(table), id)
		return nil
	})
	if err != nil {
		return storageopt.TranslateRedis(err, table+" row")
	}
	if del.Val() == 0 {
		return storageopt.TranslateRedis(redis.Nil, table+" row")
	}
	return nil
}

// List 按 id 排序返回表中全部行。索引中残留但行已不存在的 id 被跳过。
func (s *Store) List(ctx context.Context, table string) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	ids, err := s.rdb.SMembers(ctx, s.indexKey(table)).Result()
	if err != nil {
		return nil, storageopt.TranslateRedis(err, table+" index")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.rowKey(table, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storageopt.TranslateRedis(err, table+" rows")
	}

	rows := make([]Row, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		row, err := decodeRow([]byte(str))
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := storageopt.HealthContext(ctx, storageopt.DefaultHealthTimeout)
	defer cancel()
	return storageopt.TranslateRedis(s.rdb.Ping(ctx).Err(), "redis")
}

func checkTable(table string) error {
	if table == "" || strings.ContainsAny(table, ": \t\n") || table == indexSuffix {
		return invalid(fmt.Errorf("%w: %q", ErrInvalidTable, table))
	}
	return nil
}

func checkKey(table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid(fmt.Errorf("%w: %q", ErrInvalidID, id))
	}
	return nil
}

func invalid(err error) error {
	return &xfault.Error{Kind: xfault.KindValidation, Code: xfault.CodeInvalidInput, Err: err}
}

func encodeRow(row Row) ([]byte, error) {
	if row == nil {
		return nil, invalid(fmt.Errorf("%w: row is nil", ErrMalformedRow))
	}
	data, err := json.Marshal(row)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: %w", ErrMalformedRow, err))
	}
	return data, nil
}

func decodeRow(data []byte) (Row, error) {
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, invalid(fmt.Errorf("%w: %w", ErrMalformedRow, err))
	}
	if row == nil {
		return nil, invalid(fmt.Errorf("%w: not an object", ErrMalformedRow))
	}
	return row, nil
}
