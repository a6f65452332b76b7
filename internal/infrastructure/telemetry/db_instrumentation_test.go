package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&testRow{}))
	return db
}

func TestDefaultDBConfig(t *testing.T) {
	cfg := DefaultDBConfig()
	assert.False(t, cfg.Tracing)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, "postgresql", cfg.DBSystem)
}

func TestNewDBInstrumentation_MetricsNeedMeter(t *testing.T) {
	_, err := NewDBInstrumentation(nil, DBConfig{Metrics: true}, nil)
	assert.ErrorIs(t, err, ErrMeterNil)

	d, err := NewDBInstrumentation(nil, DBConfig{Tracing: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d.config.PoolStatsInterval)
}

func TestDBInstrumentation_QueryMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	d, err := NewDBInstrumentation(provider.Meter("db"), DBConfig{Metrics: true, SlowQueryThreshold: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, err)

	db := setupTestDB(t)
	require.NoError(t, db.Use(d))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&testRow{Name: "a"}).Error)
	var rows []testRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	var n int64
	require.NoError(t, db.WithContext(ctx).Raw("SELECT COUNT(*) FROM test_rows").Scan(&n).Error)
	assert.Equal(t, int64(1), n)

	d.collectPoolStats(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	byName := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byName[m.Name] = m
		}
	}

	total, ok := byName["db_query_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	ops := make(map[string]int64)
	for _, dp := range total.DataPoints {
		v, _ := dp.Attributes.Value(AttrDBOperation)
		ops[v.AsString()] += dp.Value
	}
	assert.Equal(t, int64(1), ops["CREATE"])
	assert.Equal(t, int64(1), ops["QUERY"])
	assert.Equal(t, int64(1), ops["SELECT"])

	assert.Contains(t, byName, "db_pool_connections")
	_, slow := byName["db_slow_query_total"]
	assert.False(t, slow)
}

func TestOperationOf(t *testing.T) {
	assert.Equal(t, "SELECT", operationOf("  select * from x"))
	assert.Equal(t, "INSERT", operationOf("INSERT INTO x"))
	assert.Equal(t, "OTHER", operationOf("PRAGMA foreign_keys"))
}

func TestDBInstrumentation_StopIsIdempotent(t *testing.T) {
	d, err := NewDBInstrumentation(nil, DefaultDBConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, d.Initialize(setupTestDB(t)))
	d.StartPoolStatsCollection(context.Background())
	d.Stop()
	d.Stop()
}
