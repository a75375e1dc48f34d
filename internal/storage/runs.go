package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	qb "github.com/Masterminds/squirrel"
	"github.com/relayctl/relay/internal/models"
)

type UpdatableRunFields struct {
	Ended               *uint64
	State               *models.RunState
	Status              *models.RunStatus
	FailureReason       *models.FailureReason
	FailureDescription  *string
	TaskRuns            *[]string
	StoreExpired        *bool
	StoreKeys           *[]string
}

var runColumns = []string{
	"namespace", "pipeline", "id", "started", "ended", "state", "status",
	"failure_reason", "failure_description", "trigger_kind", "trigger_label",
	"variables", "task_runs", "store_expired", "store_keys",
}

func scanRun(row interface {
	Scan(dest ...interface{}) error
}) (models.Run, error) {
	var r models.Run
	var state, status, failureReason, failureDescription, triggerKind, triggerLabel string
	var variablesJSON, taskRunsJSON, storeKeysJSON string
	var storeExpired bool

	err := row.Scan(&r.Namespace, &r.Pipeline, &r.ID, &r.Started, &r.Ended, &state, &status,
		&failureReason, &failureDescription, &triggerKind, &triggerLabel,
		&variablesJSON, &taskRunsJSON, &storeExpired, &storeKeysJSON)
	if err != nil {
		return models.Run{}, err
	}

	r.State = models.RunState(state)
	r.Status = models.RunStatus(status)
	r.Trigger = models.TriggerInfo{Kind: triggerKind, Label: triggerLabel}
	r.StoreExpired = storeExpired

	if failureReason != "" {
		r.FailureInfo = &models.FailureInfo{
			Reason:      models.FailureReason(failureReason),
			Description: failureDescription,
		}
	}

	variables := []models.Variable{}
	if err := json.Unmarshal([]byte(variablesJSON), &variables); err != nil {
		return models.Run{}, fmt.Errorf("%w: variables: %v", ErrParse, err)
	}
	r.Variables = variables

	taskRuns := []string{}
	if err := json.Unmarshal([]byte(taskRunsJSON), &taskRuns); err != nil {
		return models.Run{}, fmt.Errorf("%w: task_runs: %v", ErrParse, err)
	}
	r.TaskRuns = taskRuns

	storeKeys := []string{}
	if err := json.Unmarshal([]byte(storeKeysJSON), &storeKeys); err != nil {
		return models.Run{}, fmt.Errorf("%w: store_keys: %v", ErrParse, err)
	}
	r.StoreKeys = storeKeys

	return r, nil
}

// ListRuns returns a pipeline's runs ordered most-recent-first.
func (db *DB) ListRuns(conn Queryable, namespace, pipeline string, offset, limit int) ([]models.Run, error) {
	if conn == nil {
		conn = db
	}
	limit = clampLimit(limit, db.maxResultsLimit)

	query, args := qb.Select(runColumns...).From("runs").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).
		OrderBy("started DESC").Limit(uint64(limit)).Offset(uint64(offset)).MustSql()

	rows, err := conn.Queryx(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return runs, nil
}

func (db *DB) InsertRun(conn Queryable, run *models.Run) error {
	if conn == nil {
		conn = db
	}

	variablesJSON, err := json.Marshal(run.Variables)
	if err != nil {
		return fmt.Errorf("encoding variables: %w", err)
	}

	taskRunsJSON, err := json.Marshal(run.TaskRuns)
	if err != nil {
		return fmt.Errorf("encoding task_runs: %w", err)
	}

	storeKeysJSON, err := json.Marshal(run.StoreKeys)
	if err != nil {
		return fmt.Errorf("encoding store_keys: %w", err)
	}

	var failureReason, failureDescription string
	if run.FailureInfo != nil {
		failureReason = string(run.FailureInfo.Reason)
		failureDescription = run.FailureInfo.Description
	}

	query, args := qb.Insert("runs").Columns(runColumns...).Values(
		run.Namespace, run.Pipeline, run.ID, run.Started, run.Ended, run.State, run.Status,
		failureReason, failureDescription, run.Trigger.Kind, run.Trigger.Label,
		string(variablesJSON), string(taskRunsJSON), run.StoreExpired, string(storeKeysJSON)).MustSql()

	if _, err := conn.Exec(query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEntityExists
		}
		return wrapDBErr(err)
	}

	return nil
}

func (db *DB) GetRun(conn Queryable, namespace, pipeline string, id int64) (models.Run, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select(runColumns...).From("runs").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline, "id": id}).MustSql()

	row := conn.QueryRowx(query, args...)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return models.Run{}, ErrEntityNotFound
		}
		return models.Run{}, wrapDBErr(err)
	}

	return run, nil
}

// CountRunsByState returns how many of a pipeline's runs are currently in
// the given state. api.UpdatePipeline uses it (for Pending and Running) to
// reject an update while runs are in flight; the kernel's parallelism limit
// is enforced from its own in-memory counts, not from this query.
func (db *DB) CountRunsByState(conn Queryable, namespace, pipeline string, state models.RunState) (int, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select("COUNT(*)").From("runs").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline, "state": state}).MustSql()

	var count int
	if err := conn.Get(&count, query, args...); err != nil {
		return 0, wrapDBErr(err)
	}

	return count, nil
}

// GetLatestRunID returns the highest run ID recorded for pipeline, or 0 if it
// has never been run. Callers use this to allocate the next run ID.
func (db *DB) GetLatestRunID(conn Queryable, namespace, pipeline string) (int64, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select("COALESCE(MAX(id), 0)").From("runs").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()

	var id int64
	if err := conn.Get(&id, query, args...); err != nil {
		return 0, wrapDBErr(err)
	}

	return id, nil
}

func (db *DB) UpdateRun(conn Queryable, namespace, pipeline string, id int64, fields UpdatableRunFields) error {
	if conn == nil {
		conn = db
	}

	builder := qb.Update("runs")

	if fields.Ended != nil {
		builder = builder.Set("ended", *fields.Ended)
	}
	if fields.State != nil {
		builder = builder.Set("state", *fields.State)
	}
	if fields.Status != nil {
		builder = builder.Set("status", *fields.Status)
	}
	if fields.FailureReason != nil {
		builder = builder.Set("failure_reason", *fields.FailureReason)
	}
	if fields.FailureDescription != nil {
		builder = builder.Set("failure_description", *fields.FailureDescription)
	}
	if fields.TaskRuns != nil {
		raw, err := json.Marshal(*fields.TaskRuns)
		if err != nil {
			return fmt.Errorf("encoding task_runs: %w", err)
		}
		builder = builder.Set("task_runs", string(raw))
	}
	if fields.StoreExpired != nil {
		builder = builder.Set("store_expired", *fields.StoreExpired)
	}
	if fields.StoreKeys != nil {
		raw, err := json.Marshal(*fields.StoreKeys)
		if err != nil {
			return fmt.Errorf("encoding store_keys: %w", err)
		}
		builder = builder.Set("store_keys", string(raw))
	}

	query, args := builder.Where(qb.Eq{"namespace": namespace, "pipeline": pipeline, "id": id}).MustSql()

	result, err := conn.Exec(query, args...)
	if err != nil {
		return wrapDBErr(err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrEntityNotFound
	}

	return nil
}
