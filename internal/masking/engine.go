package masking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/metrics"
	"github.com/colmask/colmask/internal/report"
	"github.com/colmask/colmask/internal/sqlident"
)

// Engine runs encode and decode passes over tables.
type Engine struct {
	// Driver and Database label the reports.
	Driver   string
	Database string

	target       Target
	cat          Catalog
	codec        Codec
	confidential ConfidentialSet
	opts         Options
	logger       *slog.Logger

	savepoints int
}

// New returns an Engine.
func New(target Target, cat Catalog, codec Codec, confidential ConfidentialSet, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UpdateStrategy == "" {
		opts.UpdateStrategy = StrategyValue
	}
	return &Engine{
		target:       target,
		cat:          cat,
		codec:        codec,
		confidential: confidential,
		opts:         opts,
		logger:       logger.With("component", "masking"),
	}
}

// columnPlan is everything known about a confidential column before any
// statement of its table runs.
type columnPlan struct {
	name     string
	desc     catalog.ColumnDescriptor
	recorded bool
	result   *report.ColumnResult
}

// Process runs mode over tables in order. Recoverable conditions are
// recorded in the report; the first fatal error stops the pass and is
// returned with the partial report.
func (e *Engine) Process(ctx context.Context, tables []string, mode Mode) (*report.Run, error) {
	rep := report.NewRun(mode.String(), e.Driver, e.Database)

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			rep.Finish(err)
			return rep, err
		}
		if err := e.processTable(ctx, rep, table, mode); err != nil {
			err = fmt.Errorf("%s %s: %w", mode, table, err)
			rep.Finish(err)
			return rep, err
		}
	}

	rep.Finish(nil)
	return rep, nil
}

func (e *Engine) processTable(ctx context.Context, rep *report.Run, table string, mode Mode) error {
	tr := rep.AddTable(table)
	log := e.logger.With("table", table, "operation", mode.String())

	if err := sqlident.ValidateIdentifier(table); err != nil {
		log.Warn("refusing table with invalid name")
		tr.Skipped = report.SkipInvalidIdentifier
		metrics.TablesSkipped.WithLabelValues("invalid_identifier").Inc()
		return nil
	}

	tracked, err := e.cat.HasEntry(ctx, table)
	if err != nil {
		return err
	}
	if !tracked {
		log.Info("table not in schema catalog, skipping")
		tr.Skipped = report.SkipNotTracked
		metrics.TablesSkipped.WithLabelValues("not_tracked").Inc()
		return nil
	}

	cols, err := e.target.ColumnNames(ctx, table)
	if err != nil {
		return err
	}

	// Catalog reads finish before the table's transaction opens; the catalog
	// shares the single connection.
	var plans []columnPlan
	for _, col := range cols {
		if !e.confidential.Contains(col) {
			tr.AddColumn(col, report.ColumnNotMasked)
			continue
		}
		desc, ok, err := e.cat.Lookup(ctx, table, col)
		if err != nil {
			return err
		}
		plans = append(plans, columnPlan{
			name:     col,
			desc:     desc,
			recorded: ok,
			result:   tr.AddColumn(col, report.ColumnMasked),
		})
	}
	if len(plans) == 0 {
		log.Debug("no confidential columns")
		return nil
	}

	var key []string
	if e.opts.UpdateStrategy == StrategyRow {
		key, err = e.target.PrimaryKey(ctx, table)
		if err != nil {
			return err
		}
		if len(key) == 0 {
			log.Warn("table has no primary key, updating by value")
		}
	}

	if !e.opts.Transactional {
		for _, p := range plans {
			if err := e.processColumn(ctx, e.target, nil, table, p, key, mode); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := e.target.Begin(ctx)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if err := e.processColumn(ctx, tx, tx, table, p, key, mode); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("rolling back table", "error", rbErr)
			}
			for _, q := range plans {
				q.result.Error = "rolled back"
			}
			return err
		}
	}
	return tx.Commit()
}

func (e *Engine) processColumn(ctx context.Context, ops Ops, tx TxOps, table string, p columnPlan, key []string, mode Mode) error {
	res := p.result
	wide := ops.WideTextType()
	notNull := p.recorded && !p.desc.IsNullable

	target := wide
	if mode == Decode && p.recorded && p.desc.FullType != "" {
		target = p.desc.FullType
	}
	res.TargetType = target

	if mode == Decode && e.opts.RestoreTypeLast {
		// Widen first so a column that was never encoded can still be read as text.
		if err := e.alter(ctx, ops, tx, table, p.name, wide, notNull, mode); err != nil {
			return e.alterFailed(res, err)
		}
		if err := e.transformValues(ctx, ops, table, p.name, wide, key, mode, res); err != nil {
			return err
		}
		if target == wide {
			return nil
		}
		if err := e.alter(ctx, ops, tx, table, p.name, target, notNull, mode); err != nil {
			return e.alterFailed(res, err)
		}
		return nil
	}

	if err := e.alter(ctx, ops, tx, table, p.name, target, notNull, mode); err != nil {
		return e.alterFailed(res, err)
	}
	return e.transformValues(ctx, ops, table, p.name, target, key, mode, res)
}

// alterFailed records a recoverable alteration failure and swallows it; any
// other error is returned.
func (e *Engine) alterFailed(res *report.ColumnResult, err error) error {
	var tae *TypeAlterationError
	if !errors.As(err, &tae) {
		return err
	}
	res.Outcome = report.ColumnAlterFailed
	res.Error = tae.Err.Error()
	return nil
}

// alter changes column to sig. Inside a transaction the change runs under a
// savepoint and is undone on failure so the transaction stays usable.
func (e *Engine) alter(ctx context.Context, ops Ops, tx TxOps, table, column, sig string, notNull bool, mode Mode) error {
	var sp string
	if tx != nil {
		e.savepoints++
		sp = fmt.Sprintf("colmask_sp_%d", e.savepoints)
		if err := tx.Savepoint(ctx, sp); err != nil {
			return err
		}
	}

	err := ops.AlterColumnType(ctx, table, column, sig, notNull)
	if err == nil {
		metrics.ColumnsAltered.WithLabelValues(mode.String()).Inc()
		e.logger.Info("column type changed", "table", table, "column", column, "type", sig)
		return nil
	}

	if tx != nil {
		if rbErr := tx.RollbackTo(ctx, sp); rbErr != nil {
			return fmt.Errorf("altering %s.%s: %w (rollback to savepoint: %v)", table, column, err, rbErr)
		}
	}
	metrics.ColumnAlterFailures.WithLabelValues(mode.String()).Inc()
	e.logger.Warn("column type change failed, skipping column",
		"table", table, "column", column, "type", sig, "error", err)
	return &TypeAlterationError{Table: table, Column: column, TargetType: sig, Err: err}
}

func (e *Engine) transformValues(ctx context.Context, ops Ops, table, column, sig string, key []string, mode Mode, res *report.ColumnResult) error {
	if len(key) > 0 {
		return e.transformRows(ctx, ops, table, column, sig, key, mode, res)
	}

	values, err := ops.DistinctValues(ctx, table, column, sig)
	if err != nil {
		return err
	}
	for _, v := range values {
		nv, ok := e.convert(table, column, v, mode, res)
		if !ok {
			continue
		}
		n, err := ops.ReplaceValue(ctx, table, column, sig, v, nv)
		if err != nil {
			return err
		}
		res.Transformed++
		res.RowsUpdated += n
		metrics.ValuesTransformed.WithLabelValues(mode.String()).Inc()
	}
	e.logger.Info("column processed", "table", table, "column", column,
		"transformed", res.Transformed, "rows", res.RowsUpdated, "unchanged", res.Unchanged)
	return nil
}

func (e *Engine) transformRows(ctx context.Context, ops Ops, table, column, sig string, key []string, mode Mode, res *report.ColumnResult) error {
	rows, err := ops.KeyedValues(ctx, table, column, key)
	if err != nil {
		return err
	}
	for _, kv := range rows {
		nv, ok := e.convert(table, column, kv.Value, mode, res)
		if !ok {
			continue
		}
		n, err := ops.ReplaceKeyedValue(ctx, table, column, sig, key, kv, nv)
		if err != nil {
			return err
		}
		res.Transformed++
		res.RowsUpdated += n
		metrics.ValuesTransformed.WithLabelValues(mode.String()).Inc()
	}
	e.logger.Info("column processed", "table", table, "column", column,
		"transformed", res.Transformed, "rows", res.RowsUpdated, "unchanged", res.Unchanged)
	return nil
}

// convert returns the rewritten form of v, or false when v stays as it is.
func (e *Engine) convert(table, column, v string, mode Mode, res *report.ColumnResult) (string, bool) {
	switch mode {
	case Encode:
		if e.codec.LooksEncoded(v) {
			res.Unchanged++
			metrics.ValuesSkipped.WithLabelValues("already_encoded").Inc()
			return "", false
		}
		return e.codec.Encode(v), true

	case Decode:
		if !e.codec.LooksEncoded(v) {
			res.Unchanged++
			metrics.ValuesSkipped.WithLabelValues("not_encoded").Inc()
			return "", false
		}
		out, err := e.codec.Decode(v)
		if err != nil {
			res.DecodeFailures++
			metrics.DecodeFailures.Inc()
			e.logger.Warn("value did not decode, leaving it unchanged",
				"table", table, "column", column, "length", len(v), "error", err)
			return "", false
		}
		return out, true
	}
	return "", false
}
