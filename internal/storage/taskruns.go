package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	qb "github.com/Masterminds/squirrel"
	"github.com/relayctl/relay/internal/models"
)

type UpdatableTaskRunFields struct {
	State              *models.TaskRunState
	Status             *models.TaskRunStatus
	FailureReason      *models.FailureReason
	FailureDescription *string
	ExitCode           *int64
	SchedulerID        *string
	URL                *string
	Started            *uint64
	Ended              *uint64
}

var taskRunColumns = []string{
	"namespace", "pipeline", "run", "id", "state", "status",
	"failure_reason", "failure_description", "exit_code", "scheduler_id", "url",
	"started", "ended", "task",
}

func scanTaskRun(row interface {
	Scan(dest ...interface{}) error
}) (models.TaskRun, error) {
	var t models.TaskRun
	var state, status, failureReason, failureDescription, schedulerID, url, taskJSON string
	var exitCode sql.NullInt64

	err := row.Scan(&t.Namespace, &t.Pipeline, &t.Run, &t.ID, &state, &status,
		&failureReason, &failureDescription, &exitCode, &schedulerID, &url,
		&t.Started, &t.Ended, &taskJSON)
	if err != nil {
		return models.TaskRun{}, err
	}

	t.State = models.TaskRunState(state)
	t.Status = models.TaskRunStatus(status)
	t.SchedulerID = schedulerID
	t.URL = url

	if exitCode.Valid {
		t.ExitCode = models.Ptr(exitCode.Int64)
	}

	if failureReason != "" {
		t.FailureInfo = &models.FailureInfo{
			Reason:      models.FailureReason(failureReason),
			Description: failureDescription,
		}
	}

	var task models.Task
	if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
		return models.TaskRun{}, fmt.Errorf("%w: task: %v", ErrParse, err)
	}
	t.Task = task

	return t, nil
}

// ListTaskRuns returns every task-run belonging to a single run.
func (db *DB) ListTaskRuns(conn Queryable, namespace, pipeline string, run int64) ([]models.TaskRun, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select(taskRunColumns...).From("task_runs").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline, "run": run}).
		OrderBy("started").MustSql()

	rows, err := conn.Queryx(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	taskRuns := []models.TaskRun{}
	for rows.Next() {
		tr, err := scanTaskRun(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		taskRuns = append(taskRuns, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return taskRuns, nil
}

func (db *DB) InsertTaskRun(conn Queryable, taskRun *models.TaskRun) error {
	if conn == nil {
		conn = db
	}

	taskJSON, err := json.Marshal(taskRun.Task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}

	var failureReason, failureDescription string
	if taskRun.FailureInfo != nil {
		failureReason = string(taskRun.FailureInfo.Reason)
		failureDescription = taskRun.FailureInfo.Description
	}

	query, args := qb.Insert("task_runs").Columns(taskRunColumns...).Values(
		taskRun.Namespace, taskRun.Pipeline, taskRun.Run, taskRun.ID, taskRun.State, taskRun.Status,
		failureReason, failureDescription, taskRun.ExitCode, taskRun.SchedulerID, taskRun.URL,
		taskRun.Started, taskRun.Ended, string(taskJSON)).MustSql()

	if _, err := conn.Exec(query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEntityExists
		}
		return wrapDBErr(err)
	}

	return nil
}

func (db *DB) GetTaskRun(conn Queryable, namespace, pipeline string, run int64, id string) (models.TaskRun, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select(taskRunColumns...).From("task_runs").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline, "run": run, "id": id}).MustSql()

	row := conn.QueryRowx(query, args...)
	taskRun, err := scanTaskRun(row)
	if err != nil {
		if isNoRows(err) {
			return models.TaskRun{}, ErrEntityNotFound
		}
		return models.TaskRun{}, wrapDBErr(err)
	}

	return taskRun, nil
}

func (db *DB) UpdateTaskRun(conn Queryable, namespace, pipeline string, run int64, id string, fields UpdatableTaskRunFields) error {
	if conn == nil {
		conn = db
	}

	builder := qb.Update("task_runs")

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
	if fields.ExitCode != nil {
		builder = builder.Set("exit_code", *fields.ExitCode)
	}
	if fields.SchedulerID != nil {
		builder = builder.Set("scheduler_id", *fields.SchedulerID)
	}
	if fields.URL != nil {
		builder = builder.Set("url", *fields.URL)
	}
	if fields.Started != nil {
		builder = builder.Set("started", *fields.Started)
	}
	if fields.Ended != nil {
		builder = builder.Set("ended", *fields.Ended)
	}

	query, args := builder.Where(qb.Eq{
		"namespace": namespace, "pipeline": pipeline, "run": run, "id": id,
	}).MustSql()

	result, err := conn.Exec(query, args...)
	if err != nil {
		return wrapDBErr(err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrEntityNotFound
	}

	return nil
}
