// Package planner implements the Query Planner described in spec.md §4.G:
// it parses a SQL-shaped query, resolves the stream against the catalog,
// extracts time bounds and pushdown predicates, consults the Partition
// Index for candidate files, and assigns each scan to an owning node.
package planner

import (
	"context"
	"fmt"

	"github.com/xwb1989/sqlparser"
	"github.com/zeebo/errs"

	"go.obscore.dev/obscore/internal/index"
	"go.obscore.dev/obscore/internal/model"
)

// ErrPlanner is the general-purpose error class for planning failures.
var ErrPlanner = errs.Class("planner")

// ErrMissingTimeRange is returned when a query has no time predicate and
// the target stream has not opted out via model.Stream.RequireTimeRange,
// per spec.md §4.G: "queries without a time predicate are rejected...to
// prevent full-history scans."
var ErrMissingTimeRange = errs.Class("planner: missing time range")

// ErrQueryTooLarge is returned when a non-decomposable aggregate would ship
// more rows to the coordinator than the configured cap, per spec.md §4.G.
var ErrQueryTooLarge = errs.Class("planner: query too large")

// OpKind is the physical operator tag in a Plan tree.
type OpKind int

// Operator kinds, per spec.md §4.G's "{scan, filter, project, aggregate,
// limit, sort, merge}" tree.
const (
	OpScan OpKind = iota
	OpFilter
	OpProject
	OpAggregate
	OpLimit
	OpSort
	OpMerge
)

// AggFunc is a commutative aggregate the executor can compute partially per
// node and merge at the coordinator, per spec.md §4.G.
type AggFunc int

// Supported aggregate functions.
const (
	AggCount AggFunc = iota
	AggSum
	AggMin
	AggMax
	AggApproxDistinct // computed via HLL sketches, merged at the coordinator.
)

// Aggregate is one SELECT aggregate expression, e.g. count(*) or sum(bytes).
type Aggregate struct {
	Func  AggFunc
	Field string // empty for count(*)
	Alias string
}

// Scan is one candidate partition assigned to an owning node.
type Scan struct {
	PartitionID string
	Key         string
	Owner       string // node id that will execute this scan
	Local       bool   // true when the coordinator itself owns the shard
}

// Plan is the physical plan the executor runs, per spec.md §4.G/§4.H.
type Plan struct {
	Org        string
	Stream     string
	StartTS    int64
	EndTS      int64
	Columns    []string // projection; nil means all columns
	Predicates []index.Predicate
	Aggregates []Aggregate
	OrderByTS  bool // ORDER BY _timestamp, drives coordinator k-way merge
	Limit      int  // 0 means unbounded
	Scans      []Scan
}

// StreamCatalog resolves a stream's declared options for a given org.
type StreamCatalog interface {
	Stream(ctx context.Context, org, stream string) (model.Stream, error)
}

// Owner assigns the node responsible for executing a scan of the given
// stream's shard, per spec.md §4.G's "owner...whose shard range covers the
// stream, tie-broken by lowest recent load."
type Owner interface {
	Owner(org, stream string) (nodeID string, local bool)
}

// MaxShippedRows caps how many rows a non-decomposable aggregate may ship to
// the coordinator before the planner rejects the query with
// ErrQueryTooLarge, per spec.md §4.G.
const MaxShippedRows = 5_000_000

// Planner turns a SQL-shaped query into a Plan.
type Planner struct {
	Catalog StreamCatalog
	Index   *index.Index
	Owner   Owner
}

// New constructs a Planner.
func New(catalog StreamCatalog, idx *index.Index, owner Owner) *Planner {
	return &Planner{Catalog: catalog, Index: idx, Owner: owner}
}

// Plan parses sql (a `SELECT ... FROM stream WHERE ...` statement scoped to
// org) and produces a physical Plan, per spec.md §4.G.
func (p *Planner) Plan(ctx context.Context, org, sql string) (*Plan, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, ErrPlanner.Wrap(err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, ErrPlanner.New("only SELECT queries are supported")
	}
	if len(sel.From) != 1 {
		return nil, ErrPlanner.New("exactly one stream must be named in FROM")
	}
	streamName, err := tableName(sel.From[0])
	if err != nil {
		return nil, ErrPlanner.Wrap(err)
	}

	stream, err := p.Catalog.Stream(ctx, org, streamName)
	if err != nil {
		return nil, ErrPlanner.Wrap(err)
	}

	columns, aggs, err := parseSelectList(sel.SelectExprs)
	if err != nil {
		return nil, ErrPlanner.Wrap(err)
	}

	startTS, endTS, predicates, err := parseWhere(sel.Where)
	if err != nil {
		return nil, ErrPlanner.Wrap(err)
	}
	if startTS == 0 && endTS == 0 && stream.RequireTimeRange {
		return nil, ErrMissingTimeRange.New("%s/%s requires a time predicate", org, streamName)
	}
	if endTS == 0 {
		endTS = model.NowMicros()
	}

	orderByTS := false
	for _, o := range sel.OrderBy {
		if col, ok := o.Expr.(*sqlparser.ColName); ok && col.Name.String() == "_timestamp" {
			orderByTS = true
		}
	}

	limit := 0
	if sel.Limit != nil && sel.Limit.Rowcount != nil {
		if lit, ok := sel.Limit.Rowcount.(*sqlparser.SQLVal); ok {
			fmt.Sscanf(string(lit.Val), "%d", &limit)
		}
	}

	candidates := p.Index.LookupEntries(org, streamName, startTS, endTS, predicates)

	if len(aggs) > 0 && !allDecomposable(aggs) && len(candidates)*int(defaultRowsPerBlockEstimate) > MaxShippedRows {
		return nil, ErrQueryTooLarge.New("non-decomposable aggregate over %d candidate partitions", len(candidates))
	}

	plan := &Plan{
		Org: org, Stream: streamName, StartTS: startTS, EndTS: endTS,
		Columns: columns, Predicates: predicates, Aggregates: aggs,
		OrderByTS: orderByTS, Limit: limit,
	}
	for _, e := range candidates {
		nodeID, local := "", true
		if p.Owner != nil {
			nodeID, local = p.Owner.Owner(org, streamName)
		}
		plan.Scans = append(plan.Scans, Scan{PartitionID: e.PartitionID, Key: e.Key, Owner: nodeID, Local: local})
	}
	return plan, nil
}

// defaultRowsPerBlockEstimate is a conservative per-partition row estimate
// used only to size-check non-decomposable aggregates before dispatch; the
// executor's real stats are authoritative once scans actually run.
const defaultRowsPerBlockEstimate = 4096 * 16

func allDecomposable(aggs []Aggregate) bool {
	for _, a := range aggs {
		if a.Func != AggCount && a.Func != AggSum && a.Func != AggMin && a.Func != AggMax && a.Func != AggApproxDistinct {
			return false
		}
	}
	return true
}

func tableName(from sqlparser.TableExpr) (string, error) {
	aliased, ok := from.(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", ErrPlanner.New("unsupported FROM clause")
	}
	simple, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return "", ErrPlanner.New("unsupported FROM clause")
	}
	return simple.Name.String(), nil
}

func parseSelectList(exprs sqlparser.SelectExprs) ([]string, []Aggregate, error) {
	var columns []string
	var aggs []Aggregate
	for _, se := range exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue // *sqlparser.StarExpr: select all columns.
		}
		if fn, ok := aliased.Expr.(*sqlparser.FuncExpr); ok {
			agg, ok := parseAggFunc(fn)
			if !ok {
				return nil, nil, ErrPlanner.New("unsupported function %s", fn.Name.String())
			}
			agg.Alias = aliased.As.String()
			aggs = append(aggs, agg)
			continue
		}
		if col, ok := aliased.Expr.(*sqlparser.ColName); ok {
			columns = append(columns, col.Name.String())
		}
	}
	return columns, aggs, nil
}

func parseAggFunc(fn *sqlparser.FuncExpr) (Aggregate, bool) {
	name := fn.Name.Lowered()
	field := ""
	if len(fn.Exprs) == 1 {
		if aliased, ok := fn.Exprs[0].(*sqlparser.AliasedExpr); ok {
			if col, ok := aliased.Expr.(*sqlparser.ColName); ok {
				field = col.Name.String()
			}
		}
	}
	switch name {
	case "count":
		return Aggregate{Func: AggCount, Field: field}, true
	case "sum":
		return Aggregate{Func: AggSum, Field: field}, true
	case "min":
		return Aggregate{Func: AggMin, Field: field}, true
	case "max":
		return Aggregate{Func: AggMax, Field: field}, true
	case "approx_distinct":
		return Aggregate{Func: AggApproxDistinct, Field: field}, true
	default:
		return Aggregate{}, false
	}
}

// parseWhere walks a WHERE clause, extracting the `_timestamp BETWEEN a AND
// b` bound spec.md §4.G requires plus any remaining comparisons as pushdown
// predicates for the Partition Index.
func parseWhere(where *sqlparser.Where) (startTS, endTS int64, predicates []index.Predicate, err error) {
	if where == nil {
		return 0, 0, nil, nil
	}
	err = walkAnd(where.Expr, func(expr sqlparser.Expr) error {
		switch e := expr.(type) {
		case *sqlparser.RangeCond:
			col, ok := e.Left.(*sqlparser.ColName)
			if !ok {
				return nil
			}
			from, err1 := sqlValueToInt64(e.From)
			to, err2 := sqlValueToInt64(e.To)
			if col.Name.String() == "_timestamp" && err1 == nil && err2 == nil {
				startTS, endTS = from, to
				return nil
			}
			if err1 == nil && err2 == nil {
				predicates = append(predicates, index.Predicate{
					Field: col.Name.String(), Op: index.OpRange, Low: from, High: to,
				})
			}
		case *sqlparser.ComparisonExpr:
			col, ok := e.Left.(*sqlparser.ColName)
			if !ok {
				return nil
			}
			if e.Operator == sqlparser.EqualStr {
				v, ok := sqlValueToAny(e.Right)
				if ok {
					predicates = append(predicates, index.Predicate{Field: col.Name.String(), Op: index.OpEq, Value: v})
				}
			}
			if e.Operator == sqlparser.InStr {
				vals, ok := sqlValuesToAny(e.Right)
				if ok {
					predicates = append(predicates, index.Predicate{Field: col.Name.String(), Op: index.OpIn, Values: vals})
				}
			}
		}
		return nil
	})
	return startTS, endTS, predicates, err
}

// walkAnd flattens a conjunction of AND-joined expressions, calling fn on
// each leaf; this is the only boolean structure spec.md §6's SQL subset
// requires ("SELECT … WHERE … BETWEEN …").
func walkAnd(expr sqlparser.Expr, fn func(sqlparser.Expr) error) error {
	if and, ok := expr.(*sqlparser.AndExpr); ok {
		if err := walkAnd(and.Left, fn); err != nil {
			return err
		}
		return walkAnd(and.Right, fn)
	}
	return fn(expr)
}

func sqlValueToInt64(expr sqlparser.Expr) (int64, error) {
	lit, ok := expr.(*sqlparser.SQLVal)
	if !ok {
		return 0, ErrPlanner.New("expected literal")
	}
	var n int64
	if _, err := fmt.Sscanf(string(lit.Val), "%d", &n); err != nil {
		return 0, ErrPlanner.Wrap(err)
	}
	return n, nil
}

func sqlValueToAny(expr sqlparser.Expr) (any, bool) {
	lit, ok := expr.(*sqlparser.SQLVal)
	if !ok {
		return nil, false
	}
	switch lit.Type {
	case sqlparser.StrVal:
		return string(lit.Val), true
	case sqlparser.IntVal:
		var n int64
		fmt.Sscanf(string(lit.Val), "%d", &n)
		return n, true
	default:
		return nil, false
	}
}

func sqlValuesToAny(expr sqlparser.Expr) ([]any, bool) {
	tuple, ok := expr.(sqlparser.ValTuple)
	if !ok {
		return nil, false
	}
	var out []any
	for _, e := range tuple {
		v, ok := sqlValueToAny(e)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
