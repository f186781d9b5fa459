package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/kinetic/internal/sensor"
	"github.com/banshee-data/kinetic/internal/timeseries"
)

// Recording is a stored recording with its raw buffers.
type Recording struct {
	ID               string
	Status           string
	StartedAt        time.Time
	Duration         time.Duration
	SamplingInterval time.Duration
	Gravity          [3]float32
	Accel            *timeseries.Buffer
	Gyro             *timeseries.Buffer
	Rotation         *timeseries.Buffer
}

// RecordingSummary is a recording without its samples.
type RecordingSummary struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	DurationMS      int64      `json:"duration_ms"`
	SamplingUS      int64      `json:"sampling_us"`
	Gravity         [3]float32 `json:"gravity"`
	AccelSamples    int        `json:"accel_samples"`
	GyroSamples     int        `json:"gyro_samples"`
	RotationSamples int        `json:"rotation_samples"`
}

func (r *Recording) buffers() [3]*timeseries.Buffer {
	return [3]*timeseries.Buffer{r.Accel, r.Gyro, r.Rotation}
}

// SaveRecording copies the recording's samples into the database in one
// transaction. The buffers are only read, so they may be borrowed from a
// live session.
func (db *DB) SaveRecording(ctx context.Context, rec Recording) error {
	bufs := rec.buffers()
	for i, b := range bufs {
		if b == nil {
			return fmt.Errorf("save recording %s: missing %s buffer", rec.ID, sensor.Streams[i])
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save recording %s: %w", rec.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recordings (
			recording_id, status, started_at_ns, duration_ms, sampling_us,
			gravity_x, gravity_y, gravity_z,
			accel_count, gyro_count, rotation_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Status, rec.StartedAt.UnixNano(),
		rec.Duration.Milliseconds(), rec.SamplingInterval.Microseconds(),
		rec.Gravity[0], rec.Gravity[1], rec.Gravity[2],
		rec.Accel.Len(), rec.Gyro.Len(), rec.Rotation.Len(),
	)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", rec.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recording_samples (recording_id, stream, idx, timestamp_ns, v0, v1, v2, v3)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, b := range bufs {
		stream := sensor.Streams[i].String()
		for j := 0; j < b.Len(); j++ {
			var v3 sql.NullFloat64
			if b.Width() > 3 {
				v3 = sql.NullFloat64{Float64: float64(b.Value(3, j)), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, rec.ID, stream, j, b.Time(j),
				b.Value(0, j), b.Value(1, j), b.Value(2, j), v3); err != nil {
				return fmt.Errorf("insert %s sample %d: %w", stream, j, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recording %s: %w", rec.ID, err)
	}
	return nil
}

const summaryColumns = `recording_id, status, started_at_ns, duration_ms, sampling_us,
	gravity_x, gravity_y, gravity_z, accel_count, gyro_count, rotation_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RecordingSummary, error) {
	var s RecordingSummary
	var startedNS int64
	err := row.Scan(&s.ID, &s.Status, &startedNS, &s.DurationMS, &s.SamplingUS,
		&s.Gravity[0], &s.Gravity[1], &s.Gravity[2],
		&s.AccelSamples, &s.GyroSamples, &s.RotationSamples)
	s.StartedAt = time.Unix(0, startedNS).UTC()
	return s, err
}

// GetRecordingSummary returns one recording's metadata.
func (db *DB) GetRecordingSummary(ctx context.Context, id string) (RecordingSummary, error) {
	row := db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM recordings WHERE recording_id = ?`, id)
	s, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return s, fmt.Errorf("query recording %s: %w", id, err)
	}
	return s, nil
}

// ListRecordings returns the most recent recordings first.
func (db *DB) ListRecordings(ctx context.Context, limit int) ([]RecordingSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM recordings ORDER BY started_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	out := []RecordingSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadRecording reads a recording back into freshly allocated buffers sized
// to the stored sample counts.
func (db *DB) LoadRecording(ctx context.Context, id string) (*Recording, error) {
	s, err := db.GetRecordingSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := &Recording{
		ID:               s.ID,
		Status:           s.Status,
		StartedAt:        s.StartedAt,
		Duration:         time.Duration(s.DurationMS) * time.Millisecond,
		SamplingInterval: time.Duration(s.SamplingUS) * time.Microsecond,
		Gravity:          s.Gravity,
		Accel:            timeseries.New(max(s.AccelSamples, 1), sensor.Accelerometer.Width()),
		Gyro:             timeseries.New(max(s.GyroSamples, 1), sensor.Gyroscope.Width()),
		Rotation:         timeseries.New(max(s.RotationSamples, 1), sensor.RotationVector.Width()),
	}
	byStream := map[string]*timeseries.Buffer{
		sensor.Accelerometer.String():  rec.Accel,
		sensor.Gyroscope.String():      rec.Gyro,
		sensor.RotationVector.String(): rec.Rotation,
	}

	rows, err := db.QueryContext(ctx, `
		SELECT stream, timestamp_ns, v0, v1, v2, v3
		FROM recording_samples
		WHERE recording_id = ?
		ORDER BY stream, idx`, id)
	if err != nil {
		return nil, fmt.Errorf("query samples of %s: %w", id, err)
	}
	defer rows.Close()

	var (
		stream string
		ts     int64
		v      [4]float32
		v3     sql.NullFloat64
	)
	for rows.Next() {
		if err := rows.Scan(&stream, &ts, &v[0], &v[1], &v[2], &v3); err != nil {
			return nil, fmt.Errorf("scan sample of %s: %w", id, err)
		}
		b, ok := byStream[stream]
		if !ok {
			return nil, fmt.Errorf("recording %s: unknown stream %q", id, stream)
		}
		v[3] = float32(v3.Float64)
		if err := b.Append(ts, v[:]); err != nil {
			return nil, fmt.Errorf("recording %s: %s has more samples than recorded: %w", id, stream, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read samples of %s: %w", id, err)
	}
	return rec, nil
}

// DeleteRecording removes a recording, its samples and its lookup tables.
func (db *DB) DeleteRecording(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM recordings WHERE recording_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}
