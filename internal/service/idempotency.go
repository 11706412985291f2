// Package service 实现库存账本与采购业务逻辑层。
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// IdempotencyGuard 为库存变更类操作提供"至多一次"语义。
// 必须在受保护操作所在的同一事务内调用：键的插入与副作用
// 一起提交或一起回滚。
type IdempotencyGuard struct {
	logger *zap.Logger
}

// NewIdempotencyGuard 创建幂等守卫实例
func NewIdempotencyGuard(logger *zap.Logger) *IdempotencyGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyGuard{logger: logger}
}

// Do 以 (scope, key) 去重执行 op：
//  1. 已有记录且请求指纹一致 → 不再执行 op，直接返回首次执行的结果；
//  2. 已有记录但指纹不一致 → 键被拿去重放了另一个请求，报 conflict；
//  3. 无记录 → 执行 op，把结果与请求指纹一起写入；
//  4. 写键时撞到并发重复插入 → 视为"已执行"，改读既有记录。
//
// req 是请求的业务载荷；幂等键与请求ID不参与指纹（每次重试都会变）。
// 返回值 replayed 标记结果是否来自重放。
func (g *IdempotencyGuard) Do(ctx context.Context, r *repo.Repos, scope, key, requestID string, req any, op func() (any, error)) (json.RawMessage, bool, error) {
	hash, err := requestFingerprint(req)
	if err != nil {
		return nil, false, err
	}

	rec, err := r.Idempotency.Get(ctx, scope, key)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		if rec.RequestHash != "" && rec.RequestHash != hash {
			g.logger.Warn("idempotency key reused with a different payload",
				zap.String("scope", scope),
				zap.String("key", key),
				zap.String("original_request_id", rec.RequestID),
			)
			return nil, false, domain.Errorf(domain.KindConflict,
				"idempotency key already used for a different request in scope %s", scope)
		}
		g.logger.Info("idempotent replay",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.String("original_request_id", rec.RequestID),
		)
		return rec.Result, true, nil
	}

	result, err := op()
	if err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal idempotency result: %w", err)
	}

	insertErr := r.Idempotency.Insert(ctx, &repo.IdempotencyRecord{
		Key:         key,
		Scope:       scope,
		RequestID:   requestID,
		RequestHash: hash,
		Result:      payload,
	})
	if insertErr == repo.ErrIdempotencyConflict {
		// 并发竞争者先提交了同键记录。本事务的副作用必须整体回滚，
		// 且在 REPEATABLE READ 下本事务也读不到竞争者的行，
		// 因此把冲突上抛，由调用方在新事务中重试并命中重放分支。
		g.logger.Info("idempotency insert conflict, caller will retry and replay",
			zap.String("scope", scope),
			zap.String("key", key),
		)
		return nil, false, repo.ErrIdempotencyConflict
	}
	if insertErr != nil {
		return nil, false, insertErr
	}

	return payload, false, nil
}

// requestFingerprint 计算请求载荷的指纹：JSON 编码后取 SHA-256。
// 请求结构体通过 json:"-" 把幂等键与请求ID排除在编码之外，
// 同一操作的重试得到同一指纹。
func requestFingerprint(req any) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// RunIdempotentTx 在一个事务内执行受幂等保护的 apply。
// 撞到并发插入冲突时回滚并重试一次：重试事务会在重放分支
// 直接返回竞争者已提交的结果。
func RunIdempotentTx(ctx context.Context, uow repo.UnitOfWork, guard *IdempotencyGuard, scope, key, requestID string, req any, apply func(r *repo.Repos) (any, error)) (json.RawMessage, error) {
	run := func() (json.RawMessage, error) {
		var raw json.RawMessage
		err := uow.WithinTx(ctx, func(r *repo.Repos) error {
			result, _, err := guard.Do(ctx, r, scope, key, requestID, req, func() (any, error) {
				return apply(r)
			})
			if err != nil {
				return err
			}
			raw = result
			return nil
		})
		return raw, err
	}

	raw, err := run()
	if err == repo.ErrIdempotencyConflict {
		raw, err = run()
	}
	return raw, err
}
