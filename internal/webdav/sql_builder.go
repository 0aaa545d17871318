package webdav

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect SQL方言，决定占位符格式
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Rebind 将 ? 占位符改写为方言格式
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// queryer 由 *sql.DB 和 *sql.Tx 实现
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLBuilder SELECT查询构建器
type SQLBuilder struct {
	dialect    Dialect
	table      string
	selectCols []string
	whereConds []string
	orderBy    []string
	args       []any
}

// NewSelectBuilder 创建新的SELECT查询构建器
func NewSelectBuilder(dialect Dialect, table string, cols ...string) *SQLBuilder {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return &SQLBuilder{
		dialect:    dialect,
		table:      table,
		selectCols: cols,
	}
}

// Where 添加WHERE条件，多个条件以AND连接
func (b *SQLBuilder) Where(condition string, args ...any) *SQLBuilder {
	b.whereConds = append(b.whereConds, condition)
	b.args = append(b.args, args...)
	return b
}

// OrderBy 添加ORDER BY
func (b *SQLBuilder) OrderBy(cols ...string) *SQLBuilder {
	b.orderBy = append(b.orderBy, cols...)
	return b
}

// Args 获取参数
func (b *SQLBuilder) Args() []any {
	return b.args
}

// Build 构建SQL语句
func (b *SQLBuilder) Build() string {
	var query strings.Builder
	query.WriteString("SELECT ")
	query.WriteString(strings.Join(b.selectCols, ", "))
	query.WriteString(" FROM " + b.table)
	writeWhere(&query, b.whereConds)
	if len(b.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(b.orderBy, ", "))
	}
	return b.dialect.Rebind(query.String())
}

// ExecuteQuery 执行查询
func (b *SQLBuilder) ExecuteQuery(ctx context.Context, q queryer) (*sql.Rows, error) {
	return q.QueryContext(ctx, b.Build(), b.args...)
}

// InsertBuilder INSERT构建器
type InsertBuilder struct {
	dialect    Dialect
	table      string
	cols       []string
	values     [][]any
	onConflict []string
	doUpdate   []string
}

// NewInsertBuilder 创建INSERT构建器
func NewInsertBuilder(dialect Dialect, table string) *InsertBuilder {
	return &InsertBuilder{dialect: dialect, table: table}
}

// Columns 设置列
func (i *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	i.cols = append(i.cols, cols...)
	return i
}

// Values 添加一行值
func (i *InsertBuilder) Values(vals ...any) *InsertBuilder {
	i.values = append(i.values, vals)
	return i
}

// OnConflict 冲突列；配合DoUpdate实现upsert，否则DO NOTHING
func (i *InsertBuilder) OnConflict(cols ...string) *InsertBuilder {
	i.onConflict = append(i.onConflict, cols...)
	return i
}

// DoUpdate 冲突时用新值覆盖的列
func (i *InsertBuilder) DoUpdate(cols ...string) *InsertBuilder {
	i.doUpdate = append(i.doUpdate, cols...)
	return i
}

// Args 返回参数列表
func (i *InsertBuilder) Args() []any {
	var args []any
	for _, row := range i.values {
		args = append(args, row...)
	}
	return args
}

// Build 构建INSERT语句
func (i *InsertBuilder) Build() string {
	var query strings.Builder
	query.WriteString("INSERT INTO " + i.table)
	if len(i.cols) > 0 {
		query.WriteString(" (" + strings.Join(i.cols, ", ") + ")")
	}
	if len(i.values) > 0 {
		placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(i.values[0])), ", ") + ")"
		query.WriteString(" VALUES ")
		for idx := range i.values {
			if idx > 0 {
				query.WriteString(", ")
			}
			query.WriteString(placeholders)
		}
	}
	if len(i.onConflict) > 0 {
		query.WriteString(" ON CONFLICT (" + strings.Join(i.onConflict, ", ") + ")")
		if len(i.doUpdate) == 0 {
			query.WriteString(" DO NOTHING")
		} else {
			sets := make([]string, len(i.doUpdate))
			for j, col := range i.doUpdate {
				sets[j] = col + " = excluded." + col
			}
			query.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	return i.dialect.Rebind(query.String())
}

// Execute 执行INSERT
func (i *InsertBuilder) Execute(ctx context.Context, q queryer) (sql.Result, error) {
	return q.ExecContext(ctx, i.Build(), i.Args()...)
}

// DeleteBuilder DELETE构建器
type DeleteBuilder struct {
	dialect    Dialect
	table      string
	conditions []string
	args       []any
}

// NewDeleteBuilder 创建DELETE构建器
func NewDeleteBuilder(dialect Dialect, table string) *DeleteBuilder {
	return &DeleteBuilder{dialect: dialect, table: table}
}

// Where 设置WHERE条件
func (d *DeleteBuilder) Where(condition string, args ...any) *DeleteBuilder {
	d.conditions = append(d.conditions, condition)
	d.args = append(d.args, args...)
	return d
}

// Build 构建DELETE语句
func (d *DeleteBuilder) Build() string {
	var query strings.Builder
	query.WriteString("DELETE FROM " + d.table)
	writeWhere(&query, d.conditions)
	return d.dialect.Rebind(query.String())
}

// Args 返回参数列表
func (d *DeleteBuilder) Args() []any {
	return d.args
}

// Execute 执行DELETE
func (d *DeleteBuilder) Execute(ctx context.Context, q queryer) (sql.Result, error) {
	return q.ExecContext(ctx, d.Build(), d.args...)
}

func writeWhere(query *strings.Builder, conds []string) {
	if len(conds) == 0 {
		return
	}
	query.WriteString(" WHERE ")
	query.WriteString(strings.Join(conds, " AND "))
}
