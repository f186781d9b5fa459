package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/api"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/lut"
	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/timeseries"
	"github.com/banshee-data/kinetic/internal/transform"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kinetic.db")
	store, err := db.NewDB(path)
	require.NoError(t, err)
	defer store.Close()

	accel := timeseries.New(4, 3)
	gyro := timeseries.New(4, 3)
	rot := timeseries.New(4, 4)
	for i := int64(0); i < 4; i++ {
		ts := i * int64(time.Second)
		require.NoError(t, accel.Append(ts, []float32{0, 2, 0}))
		require.NoError(t, gyro.Append(ts, []float32{0.5, 0, 0}))
		require.NoError(t, rot.Append(ts, []float32{0, 0, 0, 1}))
	}
	require.NoError(t, store.SaveRecording(context.Background(), db.Recording{
		ID: "rec-1", Status: "done", StartedAt: time.Unix(1_700_000_000, 0),
		Accel: accel, Gyro: gyro, Rotation: rot,
	}))
	return path
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-db", "x.db", "-id", "rec-1", "-trim-start", "0.25", "-units", "cm"})
	require.NoError(t, err)
	assert.Equal(t, "x.db", o.dbPath)
	assert.Equal(t, 0.25, o.query.TrimStart)
	assert.Equal(t, "cm", o.query.Distance)
	assert.Equal(t, "rad", o.query.Angle)

	_, err = parseFlags(nil)
	assert.Error(t, err, "-id is required")
	_, err = parseFlags([]string{"-list"})
	assert.NoError(t, err)
	_, err = parseFlags([]string{"-id", "x", "-units", "furlong"})
	assert.Error(t, err)
}

func TestTransformOptions(t *testing.T) {
	opts, err := transformOptions(options{gravity: "world"})
	require.NoError(t, err)
	assert.Equal(t, transform.GravityWorld, opts.Gravity)

	_, err = transformOptions(options{gravity: "down"})
	assert.Error(t, err)
}

func TestRun_ExportsTables(t *testing.T) {
	path := seedDB(t)
	pngDir := filepath.Join(t.TempDir(), "png")

	var out bytes.Buffer
	err := run(context.Background(), options{
		dbPath: path,
		id:     "rec-1",
		pngDir: pngDir,
		save:   true,
		query:  api.CurveQuery{Distance: "m", Angle: "rad"},
	}, &out)
	require.NoError(t, err)

	var tables []lut.Table
	require.NoError(t, json.Unmarshal(out.Bytes(), &tables))
	require.Len(t, tables, 6)
	assert.Equal(t, "Offset - Y", tables[1].Label)
	assert.InDeltaSlice(t, []float32{0, 1, 4, 9}, tables[1].Data, 1e-5)
	assert.Equal(t, "Rotation - X", tables[3].Label)
	assert.InDeltaSlice(t, []float32{0, 0.5, 1, 1.5}, tables[3].Data, 1e-5)

	files, err := filepath.Glob(filepath.Join(pngDir, "*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	store, err := db.NewDB(path)
	require.NoError(t, err)
	defer store.Close()
	stored, err := store.LookupTables(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Len(t, stored, 6)
}

func TestRun_List(t *testing.T) {
	path := seedDB(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{dbPath: path, list: true}, &out))
	var list []db.RecordingSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "rec-1", list[0].ID)
}

func TestRun_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), options{dbPath: filepath.Join(t.TempDir(), "absent.db"), id: "x"}, &out))

	path := seedDB(t)
	assert.ErrorIs(t, run(context.Background(), options{dbPath: path, id: "missing"}, &out), db.ErrNotFound)
}
