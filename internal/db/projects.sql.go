// source: projects.sql

package db

import (
	"context"

	"github.com/google/uuid"
)

func scanProject(row rowScanner) (Project, error) {
	var i Project
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Title,
		&i.ProjectType,
		&i.Description,
		&i.EntityType,
		&i.EntityServices,
		&i.Sector,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createProject = `-- name: CreateProject :one
INSERT INTO projects (id, user_id, title, project_type, description, entity_type, entity_services, sector, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, user_id, title, project_type, description, entity_type, entity_services, sector, status, created_at, updated_at
`

type CreateProjectParams struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	ProjectType    string    `json:"project_type"`
	Description    string    `json:"description"`
	EntityType     string    `json:"entity_type"`
	EntityServices string    `json:"entity_services"`
	Sector         string    `json:"sector"`
	Status         string    `json:"status"`
}

func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error) {
	row := q.queryRow(ctx, createProject,
		arg.ID,
		arg.UserID,
		arg.Title,
		arg.ProjectType,
		arg.Description,
		arg.EntityType,
		arg.EntityServices,
		arg.Sector,
		arg.Status,
	)
	return scanProject(row)
}

const deleteProject = `-- name: DeleteProject :exec
DELETE FROM projects WHERE id = $1
`

func (q *Queries) DeleteProject(ctx context.Context, id uuid.UUID) error {
	_, err := q.exec(ctx, deleteProject, id)
	return err
}

const getProjectByID = `-- name: GetProjectByID :one
SELECT id, user_id, title, project_type, description, entity_type, entity_services, sector, status, created_at, updated_at FROM projects WHERE id = $1
`

func (q *Queries) GetProjectByID(ctx context.Context, id uuid.UUID) (Project, error) {
	return scanProject(q.queryRow(ctx, getProjectByID, id))
}

const listProjectTitlesByUser = `-- name: ListProjectTitlesByUser :many
SELECT title FROM projects WHERE user_id = $1
`

func (q *Queries) ListProjectTitlesByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.query(ctx, listProjectTitlesByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []string{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		items = append(items, title)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listProjectsByUser = `-- name: ListProjectsByUser :many
SELECT id, user_id, title, project_type, description, entity_type, entity_services, sector, status, created_at, updated_at FROM projects
WHERE user_id = $1
ORDER BY updated_at DESC
`

func (q *Queries) ListProjectsByUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := q.query(ctx, listProjectsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Project{}
	for rows.Next() {
		i, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateProject = `-- name: UpdateProject :one
UPDATE projects
SET title = $2, description = $3, entity_type = $4, entity_services = $5, sector = $6, updated_at = now()
WHERE id = $1
RETURNING id, user_id, title, project_type, description, entity_type, entity_services, sector, status, created_at, updated_at
`

type UpdateProjectParams struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	EntityType     string    `json:"entity_type"`
	EntityServices string    `json:"entity_services"`
	Sector         string    `json:"sector"`
}

func (q *Queries) UpdateProject(ctx context.Context, arg UpdateProjectParams) (Project, error) {
	row := q.queryRow(ctx, updateProject,
		arg.ID,
		arg.Title,
		arg.Description,
		arg.EntityType,
		arg.EntityServices,
		arg.Sector,
	)
	return scanProject(row)
}

const updateProjectStatus = `-- name: UpdateProjectStatus :one
UPDATE projects
SET status = $2, updated_at = now()
WHERE id = $1
RETURNING id, user_id, title, project_type, description, entity_type, entity_services, sector, status, created_at, updated_at
`

type UpdateProjectStatusParams struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (q *Queries) UpdateProjectStatus(ctx context.Context, arg UpdateProjectStatusParams) (Project, error) {
	return scanProject(q.queryRow(ctx, updateProjectStatus, arg.ID, arg.Status))
}
