package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StorageDriverMemory)
	t.Setenv("DB_DSN", "")
	t.Setenv("REFUND_POLICY", "")
	t.Setenv("RECONCILE_INTERVAL", "")
	t.Setenv("CREDITS_PER_LESSON", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, "staff_only", cfg.RefundPolicy)
	assert.Equal(t, 1, cfg.CreditsPerLesson)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.True(t, cfg.ChargeLessonCredits)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StorageDriverPostgres)
	t.Setenv("DB_DSN", "postgres://localhost:5432/scheduler")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("CHARGE_GROUP_CREDITS", "false")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("REFUND_POLICY", "always")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/scheduler", cfg.GetDBDSN())
	assert.EqualValues(t, 25, cfg.DBMaxConns)
	assert.False(t, cfg.ChargeGroupCredits)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, "always", cfg.RefundPolicy)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "postgres without dsn",
			env:  map[string]string{"STORAGE_DRIVER": StorageDriverPostgres, "DB_DSN": ""},
			want: "DB_DSN is required",
		},
		{
			name: "unknown driver",
			env:  map[string]string{"STORAGE_DRIVER": "sqlite"},
			want: "unknown STORAGE_DRIVER",
		},
		{
			name: "bad integer",
			env:  map[string]string{"STORAGE_DRIVER": StorageDriverMemory, "NOTIFY_WORKERS": "two"},
			want: "parse NOTIFY_WORKERS",
		},
		{
			name: "bad duration",
			env:  map[string]string{"STORAGE_DRIVER": StorageDriverMemory, "RECONCILE_INTERVAL": "hourly"},
			want: "parse RECONCILE_INTERVAL",
		},
		{
			name: "negative credits",
			env:  map[string]string{"STORAGE_DRIVER": StorageDriverMemory, "CREDITS_PER_LESSON": "-1"},
			want: "CREDITS_PER_LESSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
