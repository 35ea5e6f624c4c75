package reference

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/paging"
)

// Failure is a batch of rows whose request failed.
type Failure struct {
	Rows []core.Row
	Err  error
}

// BatchResult is the outcome of a batched write. Failed batches do not stop
// the remaining ones.
type BatchResult struct {
	Successful []core.Row
	Failed     []Failure
	// Disabled lists rows skipped because the caller may not change them.
	Disabled []core.Row
}

// Change pairs a fetched tuple with the values it should take.
type Change struct {
	Original paging.Tuple
	Values   core.Row
}

type job struct {
	rows []core.Row
	run  func(ctx context.Context) ([]core.Row, error)
}

type jobResult struct {
	job  job
	rows []core.Row
	err  error
}

// runJobs executes jobs on a single worker, one request in flight, and
// collects their outcomes in order.
func (ref *Reference) runJobs(ctx context.Context, op string, jobs []job, res *BatchResult) {
	results := make(chan jobResult)
	go func() {
		defer close(results)
		for _, j := range jobs {
			if err := ctx.Err(); err != nil {
				results <- jobResult{job: j, err: err}
				continue
			}
			rows, err := j.run(ctx)
			results <- jobResult{job: j, rows: rows, err: err}
		}
	}()

	for r := range results {
		if r.err != nil {
			ref.resolver.logger.Warn("batch failed",
				slog.String("op", op),
				slog.String("table", ref.table.QualifiedName()),
				slog.Int("rows", len(r.job.rows)),
				slog.String("error", r.err.Error()))
			res.Failed = append(res.Failed, Failure{Rows: r.job.rows, Err: r.err})
			continue
		}
		res.Successful = append(res.Successful, r.rows...)
	}
	if len(res.Successful) > 0 {
		ref.resolver.validator.Forget(ref.table)
	}
	ref.resolver.logger.Debug("batch complete",
		slog.String("op", op),
		slog.String("table", ref.table.QualifiedName()),
		slog.Int("successful", len(res.Successful)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("disabled", len(res.Disabled)))
}

func (ref *Reference) tableRef() string {
	return location.TableRef{Schema: ref.table.Schema, Table: ref.table.Name}.String()
}

func chunk(rows []core.Row, size int) [][]core.Row {
	var out [][]core.Row
	for size < len(rows) {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

// Create inserts rows. System columns absent from every row are left for
// the service to fill.
func (ref *Reference) Create(ctx context.Context, rows []core.Row) (BatchResult, error) {
	tr, err := ref.transport()
	if err != nil {
		return BatchResult{}, err
	}
	if len(rows) == 0 {
		return BatchResult{}, &core.InvalidInputError{Message: "nothing to create"}
	}
	for _, row := range rows {
		for col := range row {
			if !ref.table.HasColumn(col) {
				return BatchResult{}, &core.InvalidInputError{Message: "unknown column " + col}
			}
		}
	}

	var defaults []string
	for _, c := range ref.table.Columns {
		if !core.IsSystemColumn(c.Name) {
			continue
		}
		supplied := false
		for _, row := range rows {
			if _, ok := row[c.Name]; ok {
				supplied = true
				break
			}
		}
		if !supplied {
			defaults = append(defaults, core.Encode(c.Name))
		}
	}
	path := location.APIEntity + "/" + ref.tableRef()
	if len(defaults) > 0 {
		path += "?defaults=" + strings.Join(defaults, ",")
	}

	var jobs []job
	for _, batch := range chunk(rows, ref.resolver.batchSize) {
		jobs = append(jobs, job{rows: batch, run: func(ctx context.Context) ([]core.Row, error) {
			return tr.Post(ctx, path, batch)
		}})
	}
	var res BatchResult
	ref.runJobs(ctx, "create", jobs, &res)
	return res, nil
}

// Update writes the changed columns of each tuple, matching rows on the
// shortest key as originally fetched. Tuples that cannot be updated are
// reported as disabled. A batch in which no value differs yields
// *core.NoDataChangedError.
func (ref *Reference) Update(ctx context.Context, changes []Change) (BatchResult, error) {
	tr, err := ref.transport()
	if err != nil {
		return BatchResult{}, err
	}
	key, ok := ref.table.ShortestKey()
	if !ok {
		return BatchResult{}, &core.InvalidInputError{Message: "table " + ref.table.QualifiedName() + " has no key"}
	}

	var res BatchResult
	var enabled []Change
	changed := make(map[string]bool)
	for _, ch := range changes {
		if !ch.Original.CanUpdate {
			res.Disabled = append(res.Disabled, ch.Original.Data)
			continue
		}
		for col, v := range ch.Values {
			if !ref.table.HasColumn(col) {
				return BatchResult{}, &core.InvalidInputError{Message: "unknown column " + col}
			}
			if core.IsSystemColumn(col) {
				continue
			}
			if !sameValue(ch.Original.Data[col], v) {
				changed[col] = true
			}
		}
		enabled = append(enabled, ch)
	}
	if len(enabled) == 0 {
		return res, nil
	}
	if len(changed) == 0 {
		return res, &core.NoDataChangedError{Table: ref.table.QualifiedName()}
	}

	var targets []string
	for _, c := range ref.table.Columns {
		if changed[c.Name] {
			targets = append(targets, c.Name)
		}
	}
	keyItems := make([]string, len(key.Columns))
	for i, k := range key.Columns {
		keyItems[i] = core.Encode("o_"+k) + ":=" + core.Encode(k)
	}
	targetItems := make([]string, len(targets))
	for i, t := range targets {
		targetItems[i] = core.Encode(t)
	}
	path := location.APIAttributeGroup + "/" + ref.tableRef() + "/" +
		strings.Join(keyItems, ",") + ";" + strings.Join(targetItems, ",")

	body := make([]core.Row, len(enabled))
	for i, ch := range enabled {
		row := make(core.Row, len(key.Columns)+len(targets))
		for _, k := range key.Columns {
			row["o_"+k] = ch.Original.Data[k]
		}
		for _, t := range targets {
			if v, ok := ch.Values[t]; ok {
				row[t] = v
			} else {
				row[t] = ch.Original.Data[t]
			}
		}
		body[i] = row
	}

	var jobs []job
	for _, batch := range chunk(body, ref.resolver.batchSize) {
		jobs = append(jobs, job{rows: batch, run: func(ctx context.Context) ([]core.Row, error) {
			return tr.Put(ctx, path, batch)
		}})
	}
	ref.runJobs(ctx, "update", jobs, &res)
	return res, nil
}

// Delete removes the given tuples by key, in filters that respect the path
// length budget.
func (ref *Reference) Delete(ctx context.Context, tuples []paging.Tuple) (BatchResult, error) {
	tr, err := ref.transport()
	if err != nil {
		return BatchResult{}, err
	}
	key, ok := ref.table.ShortestKey()
	if !ok {
		return BatchResult{}, &core.InvalidInputError{Message: "table " + ref.table.QualifiedName() + " has no key"}
	}

	var res BatchResult
	var rows []core.Row
	for _, t := range tuples {
		if !t.CanDelete {
			res.Disabled = append(res.Disabled, t.Data)
			continue
		}
		rows = append(rows, t.Data)
	}
	if len(rows) == 0 {
		return res, nil
	}

	prefix := location.APIEntity + "/" + ref.tableRef() + "/"
	batches, err := compile.BatchKeyFilters(key.Columns, rows, tr.Capabilities(), ref.resolver.maxPathLength-len(prefix))
	if err != nil {
		return BatchResult{}, err
	}
	var jobs []job
	for _, b := range batches {
		selected := make([]core.Row, len(b.Rows))
		for i, idx := range b.Rows {
			selected[i] = rows[idx]
		}
		path := prefix + b.Filter
		jobs = append(jobs, job{rows: selected, run: func(ctx context.Context) ([]core.Row, error) {
			if err := tr.Delete(ctx, path); err != nil {
				return nil, err
			}
			return selected, nil
		}})
	}
	ref.runJobs(ctx, "delete", jobs, &res)
	return res, nil
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return core.FormatValue(a) == core.FormatValue(b)
}
