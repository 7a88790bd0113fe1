package database_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ironscout/harvester/internal/database"
)

func newSettingsRepo(t *testing.T) (*database.SettingsRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, cleanup := newMockDB(t)
	return database.NewSettingsRepository(db), mock, cleanup
}

func TestSettingsRepository_GetBool(t *testing.T) {
	tests := []struct {
		name      string
		rows      *sqlmock.Rows
		wantValue bool
		wantFound bool
		wantErr   bool
	}{
		{name: "true", rows: sqlmock.NewRows([]string{"value"}).AddRow("true"), wantValue: true, wantFound: true},
		{name: "false", rows: sqlmock.NewRows([]string{"value"}).AddRow("false"), wantFound: true},
		{name: "missing", rows: sqlmock.NewRows([]string{"value"})},
		{name: "garbage", rows: sqlmock.NewRows([]string{"value"}).AddRow("maybe"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := newSettingsRepo(t)
			defer cleanup()

			mock.ExpectQuery(`SELECT value FROM app_settings WHERE key = \$1`).
				WithArgs(database.SettingSchedulerEnabled).
				WillReturnRows(tt.rows)

			value, found, err := repo.GetBool(context.Background(), database.SettingSchedulerEnabled)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetBool() error = %v, wantErr %v", err, tt.wantErr)
			}
			if value != tt.wantValue || found != tt.wantFound {
				t.Errorf("GetBool() = (%v, %v), want (%v, %v)", value, found, tt.wantValue, tt.wantFound)
			}

			expectationsMet(t, mock)
		})
	}
}

func TestSettingsRepository_SetBool(t *testing.T) {
	repo, mock, cleanup := newSettingsRepo(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO app_settings \(key, value\) VALUES \(\$1, \$2\) ON CONFLICT`).
		WithArgs(database.SettingSchedulerEnabled, "true").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetBool(context.Background(), database.SettingSchedulerEnabled, true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}

	expectationsMet(t, mock)
}
