package webdav

import (
	"context"
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/types"
	"github.com/davgate/davcore/internal/webdav/utils"
)

// DeadProperty 由PROPPATCH写入的死属性
type DeadProperty struct {
	Namespace string
	Name      string
	Value     string
}

// XMLName 属性的限定名
func (p DeadProperty) XMLName() xml.Name {
	return xml.Name{Space: p.Namespace, Local: p.Name}
}

// Property 转为响应中的属性元素
func (p DeadProperty) Property() types.Property {
	return types.Property{XMLName: p.XMLName(), InnerXML: p.Value}
}

// PropPatch 单个set/remove操作
type PropPatch struct {
	Remove bool
	Prop   DeadProperty
}

// PropertyStore 死属性存储。Patch要么全部生效要么全部不生效。
type PropertyStore interface {
	List(ctx context.Context, p davpath.Path) ([]DeadProperty, error)
	Patch(ctx context.Context, p davpath.Path, ops []PropPatch) error
	// Copy replaces the properties of dst with those of src.
	Copy(ctx context.Context, src, dst davpath.Path) error
	Delete(ctx context.Context, p davpath.Path) error
	Close() error
}

func sortDeadProperties(props []DeadProperty) {
	slices.SortFunc(props, func(a, b DeadProperty) int {
		return utils.Property.Compare(a.XMLName(), b.XMLName())
	})
}

// ========================================
// 内存存储
// ========================================

// MemoryPropertyStore 进程内死属性存储
type MemoryPropertyStore struct {
	mu    sync.RWMutex
	props map[string]map[string]DeadProperty
}

func NewMemoryPropertyStore() *MemoryPropertyStore {
	return &MemoryPropertyStore{props: make(map[string]map[string]DeadProperty)}
}

func (s *MemoryPropertyStore) List(_ context.Context, p davpath.Path) ([]DeadProperty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.props[p.Key()]
	out := make([]DeadProperty, 0, len(set))
	for _, prop := range set {
		out = append(out, prop)
	}
	sortDeadProperties(out)
	return out, nil
}

func (s *MemoryPropertyStore) Patch(_ context.Context, p davpath.Path, ops []PropPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.props[p.Key()]
	if set == nil {
		set = make(map[string]DeadProperty)
	}
	for _, op := range ops {
		key := utils.Property.KeyOf(op.Prop.XMLName())
		if op.Remove {
			delete(set, key)
		} else {
			set[key] = op.Prop
		}
	}
	if len(set) == 0 {
		delete(s.props, p.Key())
	} else {
		s.props[p.Key()] = set
	}
	return nil
}

func (s *MemoryPropertyStore) Copy(_ context.Context, src, dst davpath.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.props[src.Key()]
	if len(from) == 0 {
		delete(s.props, dst.Key())
		return nil
	}
	to := make(map[string]DeadProperty, len(from))
	for k, v := range from {
		to[k] = v
	}
	s.props[dst.Key()] = to
	return nil
}

func (s *MemoryPropertyStore) Delete(_ context.Context, p davpath.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, p.Key())
	return nil
}

func (s *MemoryPropertyStore) Close() error {
	return nil
}

// ========================================
// SQL存储（sqlite3 / postgres）
// ========================================

const deadPropertiesTable = "dead_properties"

// SQLPropertyStore 基于database/sql的死属性存储
type SQLPropertyStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLPropertyStore 打开数据库并初始化表。driver为sqlite3或postgres。
func NewSQLPropertyStore(ctx context.Context, driver, dsn string) (*SQLPropertyStore, error) {
	var dialect Dialect
	switch driver {
	case "sqlite3", "sqlite":
		driver, dialect = "sqlite3", DialectSQLite
	case "postgres":
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported property store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLPropertyStore{db: db, dialect: dialect}
	if err := s.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize 创建属性表
func (s *SQLPropertyStore) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + deadPropertiesTable + ` (
			path TEXT NOT NULL,
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (path, namespace, name)
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", deadPropertiesTable, err)
	}
	return nil
}

func (s *SQLPropertyStore) List(ctx context.Context, p davpath.Path) ([]DeadProperty, error) {
	return s.list(ctx, s.db, p)
}

func (s *SQLPropertyStore) list(ctx context.Context, q queryer, p davpath.Path) ([]DeadProperty, error) {
	rows, err := NewSelectBuilder(s.dialect, deadPropertiesTable, "namespace", "name", "value").
		Where("path = ?", p.Key()).
		OrderBy("namespace", "name").
		ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list properties of %s: %w", p, err)
	}
	defer rows.Close()

	var out []DeadProperty
	for rows.Next() {
		var prop DeadProperty
		if err := rows.Scan(&prop.Namespace, &prop.Name, &prop.Value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// collation differs between drivers
	sortDeadProperties(out)
	return out, nil
}

func (s *SQLPropertyStore) Patch(ctx context.Context, p davpath.Path, ops []PropPatch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		for _, op := range ops {
			var err error
			if op.Remove {
				_, err = NewDeleteBuilder(s.dialect, deadPropertiesTable).
					Where("path = ?", p.Key()).
					Where("namespace = ?", op.Prop.Namespace).
					Where("name = ?", op.Prop.Name).
					Execute(ctx, tx)
			} else {
				_, err = s.upsert(p, op.Prop, now).Execute(ctx, tx)
			}
			if err != nil {
				return fmt.Errorf("patch %s on %s: %w", op.Prop.Name, p, err)
			}
		}
		return nil
	})
}

func (s *SQLPropertyStore) upsert(p davpath.Path, prop DeadProperty, now int64) *InsertBuilder {
	return NewInsertBuilder(s.dialect, deadPropertiesTable).
		Columns("path", "namespace", "name", "value", "updated_at").
		Values(p.Key(), prop.Namespace, prop.Name, prop.Value, now).
		OnConflict("path", "namespace", "name").
		DoUpdate("value", "updated_at")
}

func (s *SQLPropertyStore) Copy(ctx context.Context, src, dst davpath.Path) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		props, err := s.list(ctx, tx, src)
		if err != nil {
			return err
		}
		if _, err := s.deleteBuilder(dst).Execute(ctx, tx); err != nil {
			return fmt.Errorf("clear properties of %s: %w", dst, err)
		}
		now := time.Now().Unix()
		for _, prop := range props {
			if _, err := s.upsert(dst, prop, now).Execute(ctx, tx); err != nil {
				return fmt.Errorf("copy %s to %s: %w", prop.Name, dst, err)
			}
		}
		return nil
	})
}

func (s *SQLPropertyStore) Delete(ctx context.Context, p davpath.Path) error {
	if _, err := s.deleteBuilder(p).Execute(ctx, s.db); err != nil {
		return fmt.Errorf("delete properties of %s: %w", p, err)
	}
	return nil
}

func (s *SQLPropertyStore) deleteBuilder(p davpath.Path) *DeleteBuilder {
	return NewDeleteBuilder(s.dialect, deadPropertiesTable).Where("path = ?", p.Key())
}

func (s *SQLPropertyStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// HealthCheck 检查数据库连接
func (s *SQLPropertyStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLPropertyStore) Close() error {
	return s.db.Close()
}

// ========================================
// Redis存储
// ========================================

// RedisKeyPrefix 每个路径一个hash，field为{namespace}name
const RedisKeyPrefix = "davcore:props:"

// RedisPropertyStore 基于redis hash的死属性存储
type RedisPropertyStore struct {
	rdb redis.UniversalClient
}

func NewRedisPropertyStore(rdb redis.UniversalClient) *RedisPropertyStore {
	return &RedisPropertyStore{rdb: rdb}
}

func redisKey(p davpath.Path) string {
	return RedisKeyPrefix + p.Key()
}

func (s *RedisPropertyStore) List(ctx context.Context, p davpath.Path) ([]DeadProperty, error) {
	fields, err := s.rdb.HGetAll(ctx, redisKey(p)).Result()
	if err != nil {
		return nil, fmt.Errorf("list properties of %s: %w", p, err)
	}
	return decodeRedisFields(fields), nil
}

func decodeRedisFields(fields map[string]string) []DeadProperty {
	out := make([]DeadProperty, 0, len(fields))
	for field, value := range fields {
		ns, name := utils.Property.ParseKey(field)
		out = append(out, DeadProperty{Namespace: ns, Name: name, Value: value})
	}
	sortDeadProperties(out)
	return out
}

func (s *RedisPropertyStore) Patch(ctx context.Context, p davpath.Path, ops []PropPatch) error {
	key := redisKey(p)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			field := utils.Property.KeyOf(op.Prop.XMLName())
			if op.Remove {
				pipe.HDel(ctx, key, field)
			} else {
				pipe.HSet(ctx, key, field, op.Prop.Value)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("patch properties of %s: %w", p, err)
	}
	return nil
}

func (s *RedisPropertyStore) Copy(ctx context.Context, src, dst davpath.Path) error {
	fields, err := s.rdb.HGetAll(ctx, redisKey(src)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read properties of %s: %w", src, err)
	}
	dstKey := redisKey(dst)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, dstKey)
		if len(fields) > 0 {
			values := make(map[string]interface{}, len(fields))
			for k, v := range fields {
				values[k] = v
			}
			pipe.HSet(ctx, dstKey, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("copy properties to %s: %w", dst, err)
	}
	return nil
}

func (s *RedisPropertyStore) Delete(ctx context.Context, p davpath.Path) error {
	if err := s.rdb.Del(ctx, redisKey(p)).Err(); err != nil {
		return fmt.Errorf("delete properties of %s: %w", p, err)
	}
	return nil
}

func (s *RedisPropertyStore) Close() error {
	return s.rdb.Close()
}
