// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/agora/internal/platform/migration"
)

func TestDriverURL(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://agora:secret@db:5432/agora?sslmode=disable", "pgx5://agora:secret@db:5432/agora?sslmode=disable"},
		{"postgresql://db/agora", "pgx5://db/agora"},
		{"pgx5://db/agora", "pgx5://db/agora"},
		{"host=db dbname=agora", "host=db dbname=agora"},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, migration.DriverURL(tt.dsn))
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "version=none", migration.Status{Empty: true}.String())
	assert.Equal(t, "version=3", migration.Status{Version: 3}.String())
	assert.Equal(t, "version=3 dirty", migration.Status{Version: 3, Dirty: true}.String())
}
