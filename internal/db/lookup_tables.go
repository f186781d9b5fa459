package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetic/internal/lut"
)

// StoredTable is a lookup table exported from a recording.
type StoredTable struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id"`
	CreatedAt   time.Time `json:"created_at"`
	lut.Table
}

// SaveLookupTable stores an exported table against its recording and returns
// the stored row.
func (db *DB) SaveLookupTable(ctx context.Context, recordingID string, t lut.Table) (StoredTable, error) {
	values, err := json.Marshal(t.Data)
	if err != nil {
		return StoredTable{}, fmt.Errorf("encode table values: %w", err)
	}
	st := StoredTable{
		ID:          uuid.NewString(),
		RecordingID: recordingID,
		CreatedAt:   time.Now().UTC(),
		Table:       t,
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO lookup_tables (
			table_id, recording_id, label, range_start, range_end,
			value_add, value_mult, values_json, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, recordingID, t.Label, t.Start, t.End, t.Add, t.Mult, string(values), st.CreatedAt.UnixNano())
	if err != nil {
		return StoredTable{}, fmt.Errorf("insert lookup table for %s: %w", recordingID, err)
	}
	return st, nil
}

// LookupTables returns the tables exported from a recording, oldest first.
func (db *DB) LookupTables(ctx context.Context, recordingID string) ([]StoredTable, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_id, label, range_start, range_end, value_add, value_mult, values_json, created_at_ns
		FROM lookup_tables
		WHERE recording_id = ?
		ORDER BY created_at_ns, table_id`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query lookup tables for %s: %w", recordingID, err)
	}
	defer rows.Close()

	out := []StoredTable{}
	for rows.Next() {
		var (
			st        = StoredTable{RecordingID: recordingID}
			valuesRaw string
			createdNS int64
		)
		if err := rows.Scan(&st.ID, &st.Label, &st.Start, &st.End, &st.Add, &st.Mult, &valuesRaw, &createdNS); err != nil {
			return nil, fmt.Errorf("scan lookup table: %w", err)
		}
		if err := json.Unmarshal([]byte(valuesRaw), &st.Data); err != nil {
			return nil, fmt.Errorf("decode lookup table %s: %w", st.ID, err)
		}
		st.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}
