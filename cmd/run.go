package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/codec"
	"github.com/colmask/colmask/internal/config"
	"github.com/colmask/colmask/internal/database"
	"github.com/colmask/colmask/internal/dialect"
	"github.com/colmask/colmask/internal/journal"
	"github.com/colmask/colmask/internal/lock"
	"github.com/colmask/colmask/internal/masking"
	"github.com/colmask/colmask/internal/metrics"
	"github.com/colmask/colmask/internal/report"
	"github.com/colmask/colmask/internal/scanner"
	"github.com/colmask/colmask/internal/state"
	"github.com/colmask/colmask/internal/wizard"
)

// session is an open connection to one database with its catalog ready.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	database string
	dialect  dialect.Dialect
	db       *database.DB
	store    *catalog.Store
	lockPath string
}

// openSession connects to database, creates or upgrades the catalog and,
// when exclusive is set, takes the per-database lock first.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, name string, exclusive bool) (*session, error) {
	d, err := dialect.Get(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = cfg.Database.Database
	}
	dsn, err := cfg.DSN(name)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, database: name, dialect: d}

	if exclusive {
		s.lockPath = lock.PathFor(d.Name(), cfg.Database.Host, name)
		if err := lock.Acquire(s.lockPath); err != nil {
			return nil, err
		}
	}

	s.db, err = database.Open(ctx, d, dsn, cfg.Database.Schema)
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := catalog.Init(ctx, s.db); err != nil {
		s.Close()
		return nil, err
	}
	s.store = catalog.New(s.db.SQL(), d, logger)

	logger.Info("connected", "driver", d.Name(), "database", name, "schema", s.db.Schema())
	return s, nil
}

// Close releases the connection and the lock.
func (s *session) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing connection", "error", err)
		}
	}
	if s.lockPath != "" {
		if err := lock.Release(s.lockPath); err != nil {
			s.logger.Warn("releasing lock", "path", s.lockPath, "error", err)
		}
	}
}

func (s *session) tables(ctx context.Context, filter []string) ([]string, error) {
	live, err := s.db.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return live, nil
	}
	return resolveTables(live, filter)
}

// resolveTables maps each --table value to its live name, matching case
// insensitively. Names that match no table are an error.
func resolveTables(live, filter []string) ([]string, error) {
	byLower := make(map[string]string, len(live))
	for _, t := range live {
		byLower[strings.ToLower(t)] = t
	}

	var out, missing []string
	seen := map[string]bool{}
	for _, want := range filter {
		name, ok := byLower[strings.ToLower(want)]
		if !ok {
			missing = append(missing, want)
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no such table: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (s *session) scan(ctx context.Context, filter []string) (*report.Scan, error) {
	tables, err := s.tables(ctx, filter)
	if err != nil {
		return nil, err
	}

	sc := scanner.New(s.db, s.store, s.dialect.Rules(), s.logger)
	sc.Driver = s.dialect.Name()
	sc.Database = s.database

	rep, err := sc.Scan(ctx, tables)
	rep.ID = journal.NewID()
	s.afterRun("scan", rep.ID, rep.Status, func(j *journal.Journal) error { return j.RecordScan(context.WithoutCancel(ctx), rep) })
	return rep, err
}

func (s *session) mask(ctx context.Context, filter []string, mode masking.Mode) (*report.Run, error) {
	tables, err := s.tables(ctx, filter)
	if err != nil {
		return nil, err
	}

	opts := masking.Options{
		Transactional:   s.cfg.IsTransactional(),
		UpdateStrategy:  masking.UpdateStrategy(s.cfg.Masking.UpdateStrategy),
		RestoreTypeLast: s.cfg.Masking.RestoreTypeLast,
	}
	eng := masking.New(
		masking.DBTarget(s.db),
		s.store,
		codec.Base64{},
		masking.NewConfidentialSet(s.cfg.Masking.ConfidentialColumns),
		opts,
		s.logger,
	)
	eng.Driver = s.dialect.Name()
	eng.Database = s.database

	rep, err := eng.Process(ctx, tables, mode)
	rep.ID = journal.NewID()
	s.afterRun(mode.String(), rep.ID, rep.Status, func(j *journal.Journal) error { return j.RecordRun(context.WithoutCancel(ctx), rep) })
	return rep, err
}

// afterRun exports metrics, journals the run and remembers it. None of
// these steps can fail the run.
func (s *session) afterRun(operation, runID, status string, record func(*journal.Journal) error) {
	if err := metrics.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
		s.logger.Warn("exporting metrics", "error", err)
	}

	if s.cfg.JournalEnabled() {
		j, err := journal.Open(s.cfg.Journal.Path, s.logger)
		if err != nil {
			s.logger.Warn("opening journal", "path", s.cfg.Journal.Path, "error", err)
		} else {
			if err := record(j); err != nil {
				s.logger.Warn("recording run", "id", runID, "error", err)
			}
			_ = j.Close()
		}
	}

	st, err := state.Load("")
	if err != nil {
		s.logger.Warn("loading state", "error", err)
		return
	}
	st.Record(s.database, operation, runID, status)
	if err := st.Save(""); err != nil {
		s.logger.Warn("saving state", "error", err)
	}
}

// runOperation runs one menu operation end to end and returns a summary.
func runOperation(ctx context.Context, cfg *config.Config, logger *slog.Logger, name string, op wizard.Operation, filter []string) (string, error) {
	s, err := openSession(ctx, cfg, logger, name, true)
	if err != nil {
		return "", err
	}
	defer s.Close()

	switch op {
	case wizard.OpScan:
		rep, err := s.scan(ctx, filter)
		if rep == nil {
			return "", err
		}
		return fmt.Sprintf("%d tables, %d columns recorded", len(rep.Tables), rep.Recorded()), err
	case wizard.OpEncode, wizard.OpDecode:
		mode := masking.Encode
		if op == wizard.OpDecode {
			mode = masking.Decode
		}
		rep, err := s.mask(ctx, filter, mode)
		if rep == nil {
			return "", err
		}
		tot := rep.Totals()
		return fmt.Sprintf("%d tables, %d columns masked, %d values %sd, %d alteration failures",
			tot.Tables, tot.ColumnsMasked, tot.ValuesTransformed, mode, tot.ColumnsFailed), err
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}
