package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// IdempotencyRecord 表示幂等表中的一条已执行记录。
// RequestHash 是首次请求载荷的指纹，重放时用于识别"同键不同请求"。
type IdempotencyRecord struct {
	Key         string
	Scope       string
	RequestID   string
	RequestHash string
	Result      json.RawMessage
	CreatedAt   time.Time
}

// IdempotencyRepository 定义幂等键的持久化接口。
// 键的插入必须与受保护的副作用处于同一事务，崩溃不会留下
// 有键无效果（或反之）的状态。
type IdempotencyRepository interface {
	Get(ctx context.Context, scope, key string) (*IdempotencyRecord, error)
	// Insert 写入幂等记录；并发重复插入返回 ErrIdempotencyConflict
	Insert(ctx context.Context, rec *IdempotencyRecord) error
}

// ErrIdempotencyConflict 表示同键记录已被并发写入
var ErrIdempotencyConflict = fmt.Errorf("idempotency key already recorded")

// idempotencyRepo 实现 IdempotencyRepository 接口
type idempotencyRepo struct {
	q dbtx
}

// NewIdempotencyRepository 创建幂等仓储实例
func NewIdempotencyRepository(q dbtx) IdempotencyRepository {
	return &idempotencyRepo{q: q}
}

// Get 按作用域+键读取记录；不存在时返回 nil
func (r *idempotencyRepo) Get(ctx context.Context, scope, key string) (*IdempotencyRecord, error) {
	query := `
		SELECT idem_key, scope, request_id, request_hash, result, created_at
		FROM idempotency_key
		WHERE scope = ? AND idem_key = ?
	`

	rec := &IdempotencyRecord{}
	err := r.q.QueryRowContext(ctx, query, scope, key).Scan(
		&rec.Key,
		&rec.Scope,
		&rec.RequestID,
		&rec.RequestHash,
		&rec.Result,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	return rec, nil
}

// Insert 写入幂等记录，唯一键冲突被归一为 ErrIdempotencyConflict，
// 调用方应将其视为"已执行"并改读既有结果。
func (r *idempotencyRepo) Insert(ctx context.Context, rec *IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_key (scope, idem_key, request_id, request_hash, result)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, query, rec.Scope, rec.Key, rec.RequestID, rec.RequestHash, []byte(rec.Result))
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}
