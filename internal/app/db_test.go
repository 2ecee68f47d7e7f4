package app

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestApplyPoolLimits(t *testing.T) {
	t.Parallel()

	pcfg, err := pgxpool.ParseConfig("postgres://rt:rt@127.0.0.1:5432/realtime?pool_max_conns=4")
	require.NoError(t, err)

	applyPoolLimits(pcfg, Config{DBMaxConns: 12, DBMinConns: 2})
	require.EqualValues(t, 12, pcfg.MaxConns)
	require.EqualValues(t, 2, pcfg.MinConns)
	require.Equal(t, dbHealthCheckPeriod, pcfg.HealthCheckPeriod)
	require.Equal(t, dbApplicationName, pcfg.ConnConfig.RuntimeParams["application_name"])
}

func TestApplyPoolLimits_KeepsExplicitApplicationName(t *testing.T) {
	t.Parallel()

	pcfg, err := pgxpool.ParseConfig("postgres://rt:rt@127.0.0.1:5432/realtime?application_name=console-rt")
	require.NoError(t, err)

	applyPoolLimits(pcfg, Config{DBMaxConns: 3, DBMinConns: 9})
	require.EqualValues(t, 3, pcfg.MaxConns)
	require.EqualValues(t, 0, pcfg.MinConns, "min above max is ignored")
	require.Equal(t, "console-rt", pcfg.ConnConfig.RuntimeParams["application_name"])
}
