package store

import (
	"context"
	"os"
)

// Info holds database statistics.
type Info struct {
	DBPath      string    `json:"db_path"`
	DBSizeBytes int64     `json:"db_size_bytes"`
	Keys        []KeyInfo `json:"keys"`
}

// KeyInfo describes one stored key.
type KeyInfo struct {
	Key       string `json:"key"`
	SizeBytes int    `json:"size_bytes"`
	UpdatedAt string `json:"updated_at"`
}

// Info returns database statistics.
func (s *SQLiteStore) Info(ctx context.Context) (*Info, error) {
	info := &Info{DBPath: s.path}

	if fi, err := os.Stat(s.path); err == nil {
		info.DBSizeBytes = fi.Size()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, LENGTH(value), updated_at FROM kv ORDER BY key`)
	if err != nil {
		return info, err
	}
	defer rows.Close()

	for rows.Next() {
		var k KeyInfo
		if err := rows.Scan(&k.Key, &k.SizeBytes, &k.UpdatedAt); err != nil {
			return info, err
		}
		info.Keys = append(info.Keys, k)
	}

	return info, rows.Err()
}
