package lakectlcmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/host"
	"go.lakehouse.dev/core/tablespace"
	"gopkg.in/yaml.v2"
)

// Script is a sequence of Steps run against a single host Session.
type Script struct {
	// Session name. If empty, one is generated.
	Session string `yaml:"session"`
	Steps   []Step `yaml:"steps"`
}

// Step is a single statement of a Script.
type Step struct {
	Op         string        `yaml:"op"`
	Name       string        `yaml:"name,omitempty"`
	Table      string        `yaml:"table,omitempty"`
	Location   string        `yaml:"location,omitempty"`
	Using      string        `yaml:"using,omitempty"`
	Tablespace string        `yaml:"tablespace,omitempty"`
	Columns    []string      `yaml:"columns,omitempty"`
	With       yaml.MapSlice `yaml:"with,omitempty"`
	Rows       [][]string    `yaml:"rows,omitempty"`
	IfExists   bool          `yaml:"if_exists,omitempty"`
	Limit      int           `yaml:"limit,omitempty"`
	Expect     *Expectation  `yaml:"expect,omitempty"`
}

// Expectation of a Step's outcome.
type Expectation struct {
	// Error is the expected SQLSTATE of the Step.
	Error string `yaml:"error,omitempty"`
	// Exists, if set, is whether the Step's Table is expected to exist in storage.
	Exists *bool `yaml:"exists,omitempty"`
	// Rows, if set, is the expected number of scanned rows.
	Rows *int `yaml:"rows,omitempty"`
}

// ParseScript decodes a YAML Script, rejecting unknown fields.
func ParseScript(b []byte) (Script, error) {
	var s Script
	if err := yaml.UnmarshalStrict(b, &s); err != nil {
		return Script{}, errors.WithMessage(err, "decoding script")
	}
	for i, step := range s.Steps {
		if _, ok := stepOps[step.Op]; !ok {
			return Script{}, errors.Errorf("step %d: unknown op %q", i, step.Op)
		}
	}
	return s, nil
}

type stepFn func(ctx context.Context, s *host.Session, step Step, w io.Writer) (rows int, err error)

// runner tracks the storage of relations seen by a Script, so that storage
// may be checked after a relation is dropped.
type runner struct {
	s       *host.Session
	storage map[string]host.StorageRef
}

var stepOps = map[string]stepFn{
	"begin": func(ctx context.Context, s *host.Session, _ Step, _ io.Writer) (int, error) {
		return 0, s.Begin(ctx)
	},
	"commit": func(ctx context.Context, s *host.Session, _ Step, _ io.Writer) (int, error) {
		return 0, s.Commit(ctx)
	},
	"rollback": func(ctx context.Context, s *host.Session, _ Step, _ io.Writer) (int, error) {
		return 0, s.Rollback(ctx)
	},
	"savepoint": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.Savepoint(ctx, step.Name)
	},
	"rollback_to": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.RollbackTo(ctx, step.Name)
	},
	"release": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.Release(ctx, step.Name)
	},
	"create_table": func(ctx context.Context, s *host.Session, step Step, w io.Writer) (int, error) {
		var id, err = s.CreateTable(ctx, host.CreateTable{
			Name:       step.Table,
			Columns:    step.Columns,
			Using:      step.Using,
			Tablespace: step.Tablespace,
			With:       rawOptions(step.With),
		})
		if err == nil {
			fmt.Fprintf(w, "CREATE TABLE %s (%d)\n", step.Table, id)
		}
		return 0, err
	},
	"drop_table": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.DropTable(ctx, step.Table, step.IfExists)
	},
	"alter_table": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.AlterTable(ctx, step.Table, rawOptions(step.With))
	},
	"create_tablespace": func(ctx context.Context, s *host.Session, step Step, w io.Writer) (int, error) {
		var opts, err = s.CreateTablespace(ctx, step.Name, step.Location, rawOptions(step.With))
		if err == nil {
			fmt.Fprintf(w, "CREATE TABLESPACE %s WITH (%s)\n", step.Name, strings.Join(opts.Strings(), ", "))
		}
		return 0, err
	},
	"drop_tablespace": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.DropTablespace(ctx, step.Name)
	},
	"insert": func(ctx context.Context, s *host.Session, step Step, w io.Writer) (int, error) {
		var tids, err = s.Insert(ctx, step.Table, step.Rows...)
		if err == nil {
			fmt.Fprintf(w, "INSERT %d\n", len(tids))
		}
		return len(tids), err
	},
	"scan": func(ctx context.Context, s *host.Session, step Step, w io.Writer) (int, error) {
		var tuples, err = s.Scan(ctx, step.Table)
		if err != nil {
			return 0, err
		}
		var table = tablewriter.NewWriter(w)
		table.Header("TID", "Values")
		for _, t := range tuples {
			if err = table.Append([]string{t.TID.String(), strings.Join(t.Values, ", ")}); err != nil {
				return 0, err
			}
		}
		return len(tuples), table.Render()
	},
	"analyze": func(ctx context.Context, s *host.Session, step Step, w io.Writer) (int, error) {
		var n = step.Limit
		if n == 0 {
			n = 100
		}
		var tuples, err = s.Analyze(ctx, step.Table, n)
		if err == nil {
			fmt.Fprintf(w, "ANALYZE %s sampled %d rows\n", step.Table, len(tuples))
		}
		return len(tuples), err
	},
	"vacuum": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, s.Vacuum(ctx, step.Table)
	},
	"exists": func(ctx context.Context, s *host.Session, step Step, _ io.Writer) (int, error) {
		return 0, nil // Checked by the Step's expectation.
	},
}

// RunScript runs each Step of |script| in order against a new Session of
// |h|, writing statement results to |w|. It stops at the first Step which
// fails or doesn't meet its Expectation.
func RunScript(ctx context.Context, h *host.Host, script Script, w io.Writer) error {
	var s = h.NewSession(script.Session)
	var r = &runner{s: s, storage: make(map[string]host.StorageRef)}

	for i, step := range script.Steps {
		var fn, ok = stepOps[step.Op]
		if !ok {
			return errors.Errorf("step %d: unknown op %q", i, step.Op)
		}
		if step.Op == "drop_table" {
			r.track(ctx, step.Table)
		}
		var rows, err = fn(ctx, s, step, w)
		if step.Op == "create_table" && err == nil {
			r.track(ctx, step.Table)
		}

		log.WithFields(log.Fields{
			"session": s.Name,
			"step":    i,
			"op":      step.Op,
			"err":     err,
		}).Debug("ran script step")

		if err = r.check(ctx, step, rows, err); err != nil {
			return errors.WithMessagef(err, "step %d (%s)", i, step.Op)
		}
	}
	if s.InBlock() {
		log.WithField("session", s.Name).Warn("script ended within a transaction block; rolling back")
		return s.Rollback(ctx)
	}
	return nil
}

// track the storage of relation |name|, if it can be resolved.
func (r *runner) track(ctx context.Context, name string) {
	if r.s.Failed() {
		return
	}
	if ref, ok, err := r.s.RelationStorage(ctx, name); err == nil && ok {
		r.storage[name] = ref
	}
}

func (r *runner) check(ctx context.Context, step Step, rows int, err error) error {
	var expect = step.Expect
	if expect == nil {
		return err
	}

	if expect.Error != "" {
		if err == nil {
			return errors.Errorf("expected error %s, but step succeeded", expect.Error)
		} else if code := host.Code(err); code != pq.ErrorCode(expect.Error) {
			return errors.Errorf("expected error %s, but got %s (%s)", expect.Error, code, err)
		}
		return nil
	} else if err != nil {
		return err
	}

	if expect.Rows != nil && rows != *expect.Rows {
		return errors.Errorf("expected %d rows, but got %d", *expect.Rows, rows)
	}
	if expect.Exists != nil {
		var ref, ok = r.storage[step.Table]
		if !ok {
			return errors.Errorf("relation %q was not created or dropped by the script", step.Table)
		}
		var exists, err = ref.Exists(ctx)
		if err != nil {
			return err
		} else if exists != *expect.Exists {
			return errors.Errorf("expected relation %q storage exists=%t, but it's %t", step.Table, *expect.Exists, exists)
		}
	}
	return nil
}

// rawOptions maps an ordered YAML mapping into RawOptions. A null value
// is an option given without a value.
func rawOptions(with yaml.MapSlice) []tablespace.RawOption {
	var out []tablespace.RawOption
	for _, item := range with {
		var name = fmt.Sprint(item.Key)
		if item.Value == nil {
			out = append(out, tablespace.Bare(name))
		} else {
			out = append(out, tablespace.Raw(name, fmt.Sprint(item.Value)))
		}
	}
	return out
}
