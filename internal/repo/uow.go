// Package repo 实现库存账本与采购数据访问层，负责与数据库的交互。
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// dbtx 抽象 *sql.DB 与 *sql.Tx 的公共子集，使仓储实现可同时服务
// 事务内与事务外的调用。
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repos 聚合一次事务内可用的全部仓储句柄，句柄共享同一个底层事务。
type Repos struct {
	Movements   MovementRepository
	Snapshots   SnapshotRepository
	Lots        LotRepository
	Costs       CostRepository
	Orders      PurchaseOrderRepository
	Idempotency IdempotencyRepository
	Stores      StoreRepository
	Products    ProductRepository
}

// UnitOfWork 把多表变更收敛到一个显式事务边界内：
// fn 返回错误则回滚，否则提交。账本、快照、批次、成本的联动写入
// 必须经由同一个工作单元，绝不拆成两次提交。
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(r *Repos) error) error
}

// sqlUnitOfWork 基于 database/sql 的工作单元实现
type sqlUnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork 创建工作单元实例
func NewUnitOfWork(db *sql.DB) UnitOfWork {
	return &sqlUnitOfWork{db: db}
}

// WithinTx 在单个数据库事务内执行 fn。
// 并发正确性委托给存储引擎的事务隔离：锁等待超时与死锁
// 被映射为可重试的 transient 错误，由调用方携带原幂等键重试。
func (u *sqlUnitOfWork) WithinTx(ctx context.Context, fn func(r *Repos) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(NewRepos(tx)); err != nil {
		return translateMySQLError(err)
	}

	if err := tx.Commit(); err != nil {
		return translateMySQLError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// NewRepos 基于给定连接（事务或连接池）构造仓储集合
func NewRepos(q dbtx) *Repos {
	return &Repos{
		Movements:   NewMovementRepository(q),
		Snapshots:   NewSnapshotRepository(q),
		Lots:        NewLotRepository(q),
		Costs:       NewCostRepository(q),
		Orders:      NewPurchaseOrderRepository(q),
		Idempotency: NewIdempotencyRepository(q),
		Stores:      NewStoreRepository(q),
		Products:    NewProductRepository(q),
	}
}

// MySQL 错误码：死锁 / 锁等待超时 / 唯一键冲突
const (
	mysqlErrDeadlock      = 1213
	mysqlErrLockWait      = 1205
	mysqlErrDuplicateItem = 1062
)

// translateMySQLError 把存储层的串行化冲突映射为 transient 分类，
// 与业务冲突（conflict）区分开；其余错误原样返回。
// 唯一键冲突也归入 transient：两个写者对同一新键并发首写时，
// 慢的一方在快照 Create 上撞 1062，携带原幂等键重试即可命中已建的行。
// 幂等表自身的 1062 在仓储层已被归一为 ErrIdempotencyConflict，不会走到这里。
func translateMySQLError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWait:
			return domain.WrapError(domain.KindTransient, "storage serialization conflict, retry with the same idempotency key", err)
		case mysqlErrDuplicateItem:
			return domain.WrapError(domain.KindTransient, "concurrent insert conflict, retry with the same idempotency key", err)
		}
	}
	return err
}

// isDuplicateKeyError 判断是否为唯一键冲突（幂等表并发插入时使用）
func isDuplicateKeyError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateItem
}
