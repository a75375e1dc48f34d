package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	qb "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/relayctl/relay/internal/models"
)

type UpdatablePipelineFields struct {
	Name        *string
	Description *string
	Parallelism *int64
	State       *models.PipelineState
	Modified    *uint64
	LastRunID   *int64
	LastRunTime *uint64
	Tasks       *map[string]models.Task
	Triggers    *map[string]models.TriggerSettings
	Notifiers   *map[string]models.NotifierSettings
	StoreKeys   *[]string
	DefaultVars *[]models.Variable
}

var pipelineColumns = []string{
	"namespace", "id", "name", "description", "parallelism", "state",
	"created", "modified", "last_run_id", "last_run_time", "store_keys", "default_variables",
}

func (db *DB) listTasks(conn Queryable, namespace, pipeline string) (map[string]models.Task, error) {
	query, args := qb.Select("id", "description", "image", "registry_auth", "depends_on", "variables", "exec").
		From("tasks").Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()

	rows, err := conn.Queryx(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	tasks := map[string]models.Task{}

	for rows.Next() {
		var id, description, image, dependsOnJSON, variablesJSON string
		var registryAuthJSON, execJSON sql.NullString

		if err := rows.Scan(&id, &description, &image, &registryAuthJSON, &dependsOnJSON, &variablesJSON, &execJSON); err != nil {
			return nil, wrapDBErr(err)
		}

		task := models.Task{ID: id, Description: description, Image: image}

		if registryAuthJSON.Valid {
			var auth models.RegistryAuth
			if err := json.Unmarshal([]byte(registryAuthJSON.String), &auth); err != nil {
				return nil, fmt.Errorf("%w: registry_auth: %v", ErrParse, err)
			}
			task.RegistryAuth = &auth
		}

		dependsOn := map[string]models.RequiredParentStatus{}
		if err := json.Unmarshal([]byte(dependsOnJSON), &dependsOn); err != nil {
			return nil, fmt.Errorf("%w: depends_on: %v", ErrParse, err)
		}
		task.DependsOn = dependsOn

		variables := []models.Variable{}
		if err := json.Unmarshal([]byte(variablesJSON), &variables); err != nil {
			return nil, fmt.Errorf("%w: variables: %v", ErrParse, err)
		}
		task.Variables = variables

		if execJSON.Valid {
			var exec models.Exec
			if err := json.Unmarshal([]byte(execJSON.String), &exec); err != nil {
				return nil, fmt.Errorf("%w: exec: %v", ErrParse, err)
			}
			task.Exec = &exec
		}

		tasks[id] = task
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return tasks, nil
}

func (db *DB) listTriggerSettings(conn Queryable, namespace, pipeline string) (map[string]models.TriggerSettings, error) {
	query, args := qb.Select("kind", "label", "settings", "error").From("pipeline_trigger_settings").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()

	rows, err := conn.Queryx(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	triggers := map[string]models.TriggerSettings{}

	for rows.Next() {
		var kind, label, settingsJSON, errMsg string
		if err := rows.Scan(&kind, &label, &settingsJSON, &errMsg); err != nil {
			return nil, wrapDBErr(err)
		}

		settings := map[string]string{}
		if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
			return nil, fmt.Errorf("%w: settings: %v", ErrParse, err)
		}

		triggers[label] = models.TriggerSettings{Kind: kind, Label: label, Settings: settings, Error: errMsg}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return triggers, nil
}

func (db *DB) listNotifierSettings(conn Queryable, namespace, pipeline string) (map[string]models.NotifierSettings, error) {
	query, args := qb.Select("kind", "label", "settings", "error").From("pipeline_notifier_settings").
		Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()

	rows, err := conn.Queryx(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	notifiers := map[string]models.NotifierSettings{}

	for rows.Next() {
		var kind, label, settingsJSON, errMsg string
		if err := rows.Scan(&kind, &label, &settingsJSON, &errMsg); err != nil {
			return nil, wrapDBErr(err)
		}

		settings := map[string]string{}
		if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
			return nil, fmt.Errorf("%w: settings: %v", ErrParse, err)
		}

		notifiers[label] = models.NotifierSettings{Kind: kind, Label: label, Settings: settings, Error: errMsg}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return notifiers, nil
}

func insertTask(conn Queryable, namespace, pipeline string, task *models.Task) error {
	dependsOnJSON, err := json.Marshal(task.DependsOn)
	if err != nil {
		return fmt.Errorf("encoding depends_on: %w", err)
	}

	variablesJSON, err := json.Marshal(task.Variables)
	if err != nil {
		return fmt.Errorf("encoding variables: %w", err)
	}

	var registryAuthJSON *string
	if task.RegistryAuth != nil {
		raw, err := json.Marshal(task.RegistryAuth)
		if err != nil {
			return fmt.Errorf("encoding registry_auth: %w", err)
		}
		registryAuthJSON = models.Ptr(string(raw))
	}

	var execJSON *string
	if task.Exec != nil {
		raw, err := json.Marshal(task.Exec)
		if err != nil {
			return fmt.Errorf("encoding exec: %w", err)
		}
		execJSON = models.Ptr(string(raw))
	}

	query, args := qb.Insert("tasks").
		Columns("namespace", "pipeline", "id", "description", "image", "registry_auth", "depends_on", "variables", "exec").
		Values(namespace, pipeline, task.ID, task.Description, task.Image, registryAuthJSON,
			string(dependsOnJSON), string(variablesJSON), execJSON).MustSql()

	if _, err := conn.Exec(query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEntityExists
		}
		return wrapDBErr(err)
	}

	return nil
}

func insertTriggerSettings(conn Queryable, namespace, pipeline string, settings *models.TriggerSettings) error {
	settingsJSON, err := json.Marshal(settings.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	query, args := qb.Insert("pipeline_trigger_settings").
		Columns("namespace", "pipeline", "label", "kind", "settings", "error").
		Values(namespace, pipeline, settings.Label, settings.Kind, string(settingsJSON), settings.Error).MustSql()

	if _, err := conn.Exec(query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEntityExists
		}
		return wrapDBErr(err)
	}

	return nil
}

func insertNotifierSettings(conn Queryable, namespace, pipeline string, settings *models.NotifierSettings) error {
	settingsJSON, err := json.Marshal(settings.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	query, args := qb.Insert("pipeline_notifier_settings").
		Columns("namespace", "pipeline", "label", "kind", "settings", "error").
		Values(namespace, pipeline, settings.Label, settings.Kind, string(settingsJSON), settings.Error).MustSql()

	if _, err := conn.Exec(query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEntityExists
		}
		return wrapDBErr(err)
	}

	return nil
}

func deleteTasks(conn Queryable, namespace, pipeline string) error {
	query, args := qb.Delete("tasks").Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()
	_, err := conn.Exec(query, args...)
	return wrapDBErr(err)
}

func deleteTriggerSettings(conn Queryable, namespace, pipeline string) error {
	query, args := qb.Delete("pipeline_trigger_settings").Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()
	_, err := conn.Exec(query, args...)
	return wrapDBErr(err)
}

func deleteNotifierSettings(conn Queryable, namespace, pipeline string) error {
	query, args := qb.Delete("pipeline_notifier_settings").Where(qb.Eq{"namespace": namespace, "pipeline": pipeline}).MustSql()
	_, err := conn.Exec(query, args...)
	return wrapDBErr(err)
}

// hydratePipeline fills in a pipeline's nested aggregates (tasks, trigger and
// notifier bindings) from their own tables.
func (db *DB) hydratePipeline(conn Queryable, pipeline *models.Pipeline) error {
	tasks, err := db.listTasks(conn, pipeline.Namespace, pipeline.ID)
	if err != nil {
		return err
	}
	pipeline.Tasks = tasks

	triggers, err := db.listTriggerSettings(conn, pipeline.Namespace, pipeline.ID)
	if err != nil {
		return err
	}
	pipeline.Triggers = triggers

	notifiers, err := db.listNotifierSettings(conn, pipeline.Namespace, pipeline.ID)
	if err != nil {
		return err
	}
	pipeline.Notifiers = notifiers

	return nil
}

func scanPipeline(row interface {
	Scan(dest ...interface{}) error
}) (models.Pipeline, error) {
	var p models.Pipeline
	var storeKeysJSON, defaultVarsJSON string
	var state string

	err := row.Scan(&p.Namespace, &p.ID, &p.Name, &p.Description, &p.Parallelism, &state,
		&p.Created, &p.Modified, &p.LastRunID, &p.LastRunTime, &storeKeysJSON, &defaultVarsJSON)
	if err != nil {
		return models.Pipeline{}, err
	}
	p.State = models.PipelineState(state)

	storeKeys := []string{}
	if err := json.Unmarshal([]byte(storeKeysJSON), &storeKeys); err != nil {
		return models.Pipeline{}, fmt.Errorf("%w: store_keys: %v", ErrParse, err)
	}
	p.StoreKeys = storeKeys

	defaultVars := []models.Variable{}
	if err := json.Unmarshal([]byte(defaultVarsJSON), &defaultVars); err != nil {
		return models.Pipeline{}, fmt.Errorf("%w: default_variables: %v", ErrParse, err)
	}
	p.DefaultVars = defaultVars

	return p, nil
}

func (db *DB) ListPipelines(conn Queryable, namespace string, offset, limit int) ([]models.Pipeline, error) {
	if conn == nil {
		conn = db
	}
	limit = clampLimit(limit, db.maxResultsLimit)

	query, args := qb.Select(pipelineColumns...).From("pipelines").
		Where(qb.Eq{"namespace": namespace}).
		OrderBy("created").Limit(uint64(limit)).Offset(uint64(offset)).MustSql()

	rows, err := conn.Queryx(query, args...)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	pipelines := []models.Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	for i := range pipelines {
		if err := db.hydratePipeline(conn, &pipelines[i]); err != nil {
			return nil, err
		}
	}

	return pipelines, nil
}

// InsertPipeline writes a pipeline and every one of its nested aggregates
// (tasks, trigger bindings, notifier bindings) inside a single transaction,
// so readers never observe a pipeline whose task graph is half-written.
func (db *DB) InsertPipeline(pipeline *models.Pipeline) error {
	return InsideTx(db.DB, func(tx *sqlx.Tx) error {
		storeKeysJSON, err := json.Marshal(pipeline.StoreKeys)
		if err != nil {
			return fmt.Errorf("encoding store_keys: %w", err)
		}

		defaultVarsJSON, err := json.Marshal(pipeline.DefaultVars)
		if err != nil {
			return fmt.Errorf("encoding default_variables: %w", err)
		}

		query, args := qb.Insert("pipelines").Columns(pipelineColumns...).Values(
			pipeline.Namespace, pipeline.ID, pipeline.Name, pipeline.Description, pipeline.Parallelism,
			pipeline.State, pipeline.Created, pipeline.Modified, pipeline.LastRunID, pipeline.LastRunTime,
			string(storeKeysJSON), string(defaultVarsJSON)).MustSql()

		if _, err := tx.Exec(query, args...); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrEntityExists
			}
			return wrapDBErr(err)
		}

		for _, task := range pipeline.Tasks {
			t := task
			if err := insertTask(tx, pipeline.Namespace, pipeline.ID, &t); err != nil {
				return err
			}
		}

		for _, trigger := range pipeline.Triggers {
			t := trigger
			if err := insertTriggerSettings(tx, pipeline.Namespace, pipeline.ID, &t); err != nil {
				return err
			}
		}

		for _, notifier := range pipeline.Notifiers {
			n := notifier
			if err := insertNotifierSettings(tx, pipeline.Namespace, pipeline.ID, &n); err != nil {
				return err
			}
		}

		return nil
	})
}

func (db *DB) GetPipeline(conn Queryable, namespace, id string) (models.Pipeline, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select(pipelineColumns...).From("pipelines").
		Where(qb.Eq{"namespace": namespace, "id": id}).MustSql()

	row := conn.QueryRowx(query, args...)
	pipeline, err := scanPipeline(row)
	if err != nil {
		if isNoRows(err) {
			return models.Pipeline{}, ErrEntityNotFound
		}
		return models.Pipeline{}, wrapDBErr(err)
	}

	if err := db.hydratePipeline(conn, &pipeline); err != nil {
		return models.Pipeline{}, err
	}

	return pipeline, nil
}

// UpdatePipeline updates scalar pipeline fields and, for any nested aggregate
// field that is non-nil, replaces that aggregate wholesale (delete-then-
// reinsert). All of it runs inside one transaction.
func (db *DB) UpdatePipeline(namespace, id string, fields UpdatablePipelineFields) error {
	return InsideTx(db.DB, func(tx *sqlx.Tx) error {
		builder := qb.Update("pipelines")

		if fields.Name != nil {
			builder = builder.Set("name", *fields.Name)
		}
		if fields.Description != nil {
			builder = builder.Set("description", *fields.Description)
		}
		if fields.Parallelism != nil {
			builder = builder.Set("parallelism", *fields.Parallelism)
		}
		if fields.State != nil {
			builder = builder.Set("state", *fields.State)
		}
		if fields.Modified != nil {
			builder = builder.Set("modified", *fields.Modified)
		}
		if fields.LastRunID != nil {
			builder = builder.Set("last_run_id", *fields.LastRunID)
		}
		if fields.LastRunTime != nil {
			builder = builder.Set("last_run_time", *fields.LastRunTime)
		}
		if fields.StoreKeys != nil {
			raw, err := json.Marshal(*fields.StoreKeys)
			if err != nil {
				return fmt.Errorf("encoding store_keys: %w", err)
			}
			builder = builder.Set("store_keys", string(raw))
		}
		if fields.DefaultVars != nil {
			raw, err := json.Marshal(*fields.DefaultVars)
			if err != nil {
				return fmt.Errorf("encoding default_variables: %w", err)
			}
			builder = builder.Set("default_variables", string(raw))
		}

		query, args := builder.Where(qb.Eq{"namespace": namespace, "id": id}).MustSql()
		result, err := tx.Exec(query, args...)
		if err != nil {
			return wrapDBErr(err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrEntityNotFound
		}

		if fields.Tasks != nil {
			if err := deleteTasks(tx, namespace, id); err != nil {
				return err
			}
			for _, task := range *fields.Tasks {
				t := task
				if err := insertTask(tx, namespace, id, &t); err != nil {
					return err
				}
			}
		}

		if fields.Triggers != nil {
			if err := deleteTriggerSettings(tx, namespace, id); err != nil {
				return err
			}
			for _, trigger := range *fields.Triggers {
				t := trigger
				if err := insertTriggerSettings(tx, namespace, id, &t); err != nil {
					return err
				}
			}
		}

		if fields.Notifiers != nil {
			if err := deleteNotifierSettings(tx, namespace, id); err != nil {
				return err
			}
			for _, notifier := range *fields.Notifiers {
				n := notifier
				if err := insertNotifierSettings(tx, namespace, id, &n); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func (db *DB) DeletePipeline(namespace, id string) error {
	query, args := qb.Delete("pipelines").Where(qb.Eq{"namespace": namespace, "id": id}).MustSql()
	_, err := db.Exec(query, args...)
	return wrapDBErr(err)
}
