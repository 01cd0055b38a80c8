package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"npag/types"
)

const driver = "sqlite"

// ErrNotFound 运行不存在
var ErrNotFound = errors.New("运行不存在")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs(
		run_id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		objective REAL NOT NULL,
		neg2ll REAL NOT NULL,
		reason TEXT NOT NULL,
		cycles INTEGER NOT NULL,
		incomplete INTEGER NOT NULL,
		gamma REAL NOT NULL,
		param_names TEXT NOT NULL,
		result TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS points(
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		params TEXT NOT NULL,
		weight REAL NOT NULL,
		PRIMARY KEY(run_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS cycles(
		run_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		state TEXT NOT NULL,
		objective REAL NOT NULL,
		neg2ll REAL NOT NULL,
		grid_size INTEGER NOT NULL,
		gamma REAL NOT NULL,
		eps REAL NOT NULL,
		stable INTEGER NOT NULL,
		PRIMARY KEY(run_id, cycle)
	)`,
}

// Store 拟合结果的 SQLite 存档
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open 打开（必要时创建）数据库并建表
func Open(path string) (*Store, error) {
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库: %w", err)
	}
	// 内存库每个连接相互独立
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("建表: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error { return s.db.Close() }

// SaveResult 在一个事务中写入运行、网格与循环历史，已存在的同名运行被覆盖
func (s *Store) SaveResult(ctx context.Context, res *types.Result) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := json.Marshal(res.ParamNames)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("编码结果: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, table := range []string{"runs", "points", "cycles"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id=?", res.RunID); err != nil {
			return fmt.Errorf("清理 %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, model, objective, neg2ll, reason, cycles, incomplete, gamma, param_names, result)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		res.RunID, res.Model, res.Objective, res.Neg2LL, string(res.Reason), res.Cycles,
		res.Incomplete, res.Gamma, string(names), string(blob)); err != nil {
		return fmt.Errorf("写入运行: %w", err)
	}
	for j, sp := range res.Grid {
		params, err := json.Marshal(sp.Params)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO points(run_id, idx, params, weight) VALUES(?,?,?,?)",
			res.RunID, j, string(params), sp.Weight); err != nil {
			return fmt.Errorf("写入支撑点: %w", err)
		}
	}
	for _, snap := range res.History {
		if err := insertCycle(ctx, tx, res.RunID, snap); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交: %w", err)
	}
	committed = true
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCycle(ctx context.Context, db execer, runID string, snap types.Snapshot) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cycles(run_id, cycle, state, objective, neg2ll, grid_size, gamma, eps, stable)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		runID, snap.Cycle, snap.State.String(), snap.Objective, snap.Neg2LL, snap.GridSize, snap.Gamma, snap.Eps, snap.Stable)
	if err != nil {
		return fmt.Errorf("写入循环 %d: %w", snap.Cycle, err)
	}
	return nil
}

// LoadGrid 读取运行的最终网格与参数名
func (s *Store) LoadGrid(ctx context.Context, runID string) (types.Grid, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT param_names FROM runs WHERE run_id=?", runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, nil, fmt.Errorf("解析参数名: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT params, weight FROM points WHERE run_id=? ORDER BY idx", runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var g types.Grid
	for rows.Next() {
		var params string
		var sp types.SupportPoint
		if err := rows.Scan(&params, &sp.Weight); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(params), &sp.Params); err != nil {
			return nil, nil, fmt.Errorf("解析支撑点: %w", err)
		}
		g = append(g, sp)
	}
	return g, names, rows.Err()
}

// LoadResult 读取完整结果
func (s *Store) LoadResult(ctx context.Context, runID string) (*types.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blob string
	err := s.db.QueryRowContext(ctx, "SELECT result FROM runs WHERE run_id=?", runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	var res types.Result
	if err := json.Unmarshal([]byte(blob), &res); err != nil {
		return nil, fmt.Errorf("解析结果: %w", err)
	}
	return &res, nil
}

// Run 运行摘要
type Run struct {
	RunID      string
	Model      string
	Neg2LL     float64
	Reason     string
	Cycles     int
	Incomplete bool
}

// Runs 列出所有运行
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, "SELECT run_id, model, neg2ll, reason, cycles, incomplete FROM runs ORDER BY run_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Model, &r.Neg2LL, &r.Reason, &r.Cycles, &r.Incomplete); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cycles 读取运行的循环历史
func (s *Store) Cycles(ctx context.Context, runID string) ([]types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT cycle, objective, neg2ll, grid_size, gamma, eps, stable FROM cycles WHERE run_id=? ORDER BY cycle", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Snapshot
	for rows.Next() {
		snap := types.Snapshot{RunID: runID}
		if err := rows.Scan(&snap.Cycle, &snap.Objective, &snap.Neg2LL, &snap.GridSize, &snap.Gamma, &snap.Eps, &snap.Stable); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Recorder 将每个循环的快照实时写入数据库，写入失败只记录第一个错误
type Recorder struct {
	store *Store
	mu    sync.Mutex
	err   error
}

// Recorder 返回进度接收者
func (s *Store) Recorder() *Recorder { return &Recorder{store: s} }

// Update 实现 types.Progress
func (r *Recorder) Update(snap types.Snapshot) {
	r.store.mu.Lock()
	err := insertCycle(context.Background(), r.store.db, snap.RunID, snap)
	r.store.mu.Unlock()
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
}

// Err 返回第一个写入错误
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
