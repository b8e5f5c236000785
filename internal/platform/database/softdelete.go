// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package database holds storage conventions shared by every persisted entity.

Soft deletion is a capability, not a per-table rewrite: entities embed
[AuditFields], satisfy [SoftDeletable], and every store filters rows with
[NotDeleted]. Rows are never physically removed by application code.
*/
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/postgres"
)

// # Audit Columns

// AuditFields is embedded by entities that track authorship and soft deletion.
type AuditFields struct {
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy *string    `json:"-"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy *string    `json:"-"`
	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
	DeletedBy *string    `json:"-"`
}

// SoftDeletable is implemented by every entity embedding [AuditFields].
type SoftDeletable interface {
	Deleted() bool
	MarkDeleted(actor string, at time.Time)
}

// Deleted reports whether the row has been soft-deleted.
func (fields *AuditFields) Deleted() bool {
	return fields.IsDeleted
}

// MarkDeleted flags the entity as deleted by actor at the given instant.
func (fields *AuditFields) MarkDeleted(actor string, at time.Time) {
	fields.IsDeleted = true
	fields.DeletedAt = &at
	fields.DeletedBy = optional(actor)
}

// Touch stamps creation (first call) and modification metadata.
func (fields *AuditFields) Touch(actor string, at time.Time) {
	if fields.CreatedAt.IsZero() {
		fields.CreatedAt = at
		fields.CreatedBy = optional(actor)
	}
	fields.UpdatedAt = at
	fields.UpdatedBy = optional(actor)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// # Query Filter

// NotDeleted returns the predicate that hides soft-deleted rows.
// Pass the table alias used in the query, or "" for an unaliased table.
func NotDeleted(alias string) string {
	if alias == "" {
		return "isdeleted = FALSE"
	}
	return alias + ".isdeleted = FALSE"
}

// SoftDelete flags the row id in table as deleted.
//
// It returns NOT_FOUND when no live row matched, so deleting twice is reported
// to the caller rather than silently succeeding.
func SoftDelete(ctx context.Context, db postgres.DBTX, table, id, actor string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET isdeleted = TRUE, deletedat = $2, deletedby = $3, updatedat = $2, updatedby = $3
		WHERE id = $1 AND %s`, table, NotDeleted(""))

	tag, err := db.Exec(ctx, query, id, at, optional(actor))
	if err != nil {
		return fmt.Errorf("database_soft_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Record")
	}
	return nil
}
