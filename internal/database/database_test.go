package database

import (
	"testing"

	"glimmer/internal/config"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}

	err = configurePool(db, cfg)
	assert.NoError(t, err)

	sqlDB, err := db.DB()
	assert.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		env       string
		allowAuto bool
		wantSQL   bool
		wantAuto  bool
		wantErr   bool
	}{
		{"Hybrid in dev", "hybrid", "development", false, true, true, false},
		{"Hybrid in prod", "hybrid", "production", false, true, false, false},
		{"Default mode is hybrid", "", "development", false, true, true, false},
		{"SQL only", "sql", "production", false, true, false, false},
		{"Auto in dev", "auto", "development", false, false, true, false},
		{"Auto in prod without override", "auto", "production", false, false, false, true},
		{"Auto in prod with override", "auto", "production", true, false, true, false},
		{"Unknown mode", "yolo", "development", false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Env:                           tt.env,
				DBSchemaMode:                  tt.mode,
				DBAutoMigrateAllowDestructive: tt.allowAuto,
			}
			runSQL, runAuto, err := schemaPolicy(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantSQL, runSQL)
			assert.Equal(t, tt.wantAuto, runAuto)
		})
	}
}
