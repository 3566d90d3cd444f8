package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists vectors to a SQLite table for workspaces large
// enough that keeping every embedding resident isn't desirable. Ranking
// still runs as a brute-force scan in Go: the pure-Go modernc/sqlite
// driver this project uses elsewhere cannot load the sqlite-vec native
// extension's virtual table (that requires cgo-linked SQLite), so this
// store trades native ANN search for persistence without introducing a
// second, cgo-linked SQLite driver alongside modernc's.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates a vector table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			dims INTEGER NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Enabled always reports true once opened.
func (s *SQLiteStore) Enabled() bool { return true }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert stores or replaces the vector for an entry ID.
func (s *SQLiteStore) Upsert(id string, vector []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO vectors (id, dims, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET dims=excluded.dims, data=excluded.data`,
		id, len(vector), encodeVector(vector),
	)
	return err
}

// Remove deletes the vector for an entry ID.
func (s *SQLiteStore) Remove(id string) error {
	_, err := s.db.Exec(`DELETE FROM vectors WHERE id = ?`, id)
	return err
}

// TopK scans every stored vector and returns the k with highest cosine
// similarity to vector.
func (s *SQLiteStore) TopK(ctx context.Context, vector []float32, k int) ([]string, map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM vectors`)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore: query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id    string
		score float64
	}
	var results []scored
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, nil, err
		}
		results = append(results, scored{id: id, score: cosine(vector, decodeVector(data))})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > k {
		results = results[:k]
	}

	ids := make([]string, 0, len(results))
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		ids = append(ids, r.id)
		scores[r.id] = r.score
	}
	return ids, scores, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}
