package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/vetcare-platform/migrations"
)

type fakeMigrator struct {
	upErr  error
	steps  []int
	forced []int
	ups    int
}

func (f *fakeMigrator) Up() error         { f.ups++; return f.upErr }
func (f *fakeMigrator) Steps(n int) error { f.steps = append(f.steps, n); return nil }
func (f *fakeMigrator) Force(v int) error { f.forced = append(f.forced, v); return nil }

func TestRunUpTreatsNoChangeAsSuccess(t *testing.T) {
	m := &fakeMigrator{upErr: migrate.ErrNoChange}
	require.NoError(t, run(m, nil))
	require.NoError(t, run(m, []string{"up"}))
	assert.Equal(t, 2, m.ups)

	m.upErr = errors.New("dirty")
	assert.Error(t, run(m, nil))
}

func TestRunDownAndForce(t *testing.T) {
	m := &fakeMigrator{}
	require.NoError(t, run(m, []string{"down"}))
	require.NoError(t, run(m, []string{"down", "2"}))
	require.NoError(t, run(m, []string{"force", "1"}))
	assert.Equal(t, []int{-1, -2}, m.steps)
	assert.Equal(t, []int{1}, m.forced)

	assert.Error(t, run(m, []string{"down", "0"}))
	assert.Error(t, run(m, []string{"force"}))
	assert.Error(t, run(m, []string{"force", "x"}))
	assert.Error(t, run(m, []string{"sideways"}))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	up, err := migrations.FS.ReadFile("000001_bookings.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS transactions")

	down, err := migrations.FS.ReadFile("000001_bookings.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP TABLE IF EXISTS bookings")
}
