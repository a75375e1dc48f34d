package storage

import (
	"strings"

	qb "github.com/Masterminds/squirrel"
	"github.com/relayctl/relay/internal/models"
)

type UpdatableNamespaceFields struct {
	Name        *string
	Description *string
	Modified    *uint64
}

var namespaceColumns = []string{"id", "name", "description", "created", "modified"}

func (db *DB) ListNamespaces(conn Queryable, offset, limit int) ([]models.Namespace, error) {
	if conn == nil {
		conn = db
	}
	limit = clampLimit(limit, db.maxResultsLimit)

	query, args := qb.Select(namespaceColumns...).From("namespaces").
		OrderBy("id").Limit(uint64(limit)).Offset(uint64(offset)).MustSql()

	namespaces := []models.Namespace{}
	if err := conn.Select(&namespaces, query, args...); err != nil {
		return nil, wrapDBErr(err)
	}

	return namespaces, nil
}

func (db *DB) InsertNamespace(conn Queryable, namespace *models.Namespace) error {
	if conn == nil {
		conn = db
	}

	query, args := qb.Insert("namespaces").Columns(namespaceColumns...).
		Values(namespace.ID, namespace.Name, namespace.Description, namespace.Created, namespace.Modified).MustSql()

	_, err := conn.Exec(query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEntityExists
		}
		return wrapDBErr(err)
	}

	return nil
}

func (db *DB) GetNamespace(conn Queryable, id string) (models.Namespace, error) {
	if conn == nil {
		conn = db
	}

	query, args := qb.Select(namespaceColumns...).From("namespaces").Where(qb.Eq{"id": id}).MustSql()

	var namespace models.Namespace
	if err := conn.Get(&namespace, query, args...); err != nil {
		if isNoRows(err) {
			return models.Namespace{}, ErrEntityNotFound
		}
		return models.Namespace{}, wrapDBErr(err)
	}

	return namespace, nil
}

func (db *DB) UpdateNamespace(conn Queryable, id string, fields UpdatableNamespaceFields) error {
	if conn == nil {
		conn = db
	}

	builder := qb.Update("namespaces")

	if fields.Name != nil {
		builder = builder.Set("name", *fields.Name)
	}
	if fields.Description != nil {
		builder = builder.Set("description", *fields.Description)
	}
	if fields.Modified != nil {
		builder = builder.Set("modified", *fields.Modified)
	}

	query, args := builder.Where(qb.Eq{"id": id}).MustSql()

	result, err := conn.Exec(query, args...)
	if err != nil {
		return wrapDBErr(err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrEntityNotFound
	}

	return nil
}

func (db *DB) DeleteNamespace(conn Queryable, id string) error {
	if conn == nil {
		conn = db
	}

	query, args := qb.Delete("namespaces").Where(qb.Eq{"id": id}).MustSql()

	_, err := conn.Exec(query, args...)
	if err != nil {
		return wrapDBErr(err)
	}

	return nil
}
