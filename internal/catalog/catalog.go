// Package catalog is the durable identity store: person IDs and their
// reference face embeddings, kept in SQLite. The similarity index is a
// read-through snapshot over this store, rebuilt on enrollment changes;
// the frame pipeline never writes here.
package catalog

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/facepass-data/facetrack/internal/reid"
)

// DB wraps the catalog database connection.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	return &DB{db}, nil
}

// Embedding is one stored reference vector for a person.
type Embedding struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"person_id"`
	Vector    []float32 `json:"-"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// Enroll stores a new reference embedding for a person and returns the
// record ID.
func (d *DB) Enroll(personID string, vector []float32) (string, error) {
	if personID == "" {
		return "", fmt.Errorf("person_id must not be empty")
	}
	if len(vector) == 0 {
		return "", fmt.Errorf("embedding must not be empty")
	}
	id := uuid.NewString()
	_, err := d.Exec(
		`INSERT INTO face_embeddings (id, person_id, embedding, dim) VALUES (?, ?, ?, ?)`,
		id, personID, encodeVector(vector), len(vector),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert embedding for %s: %w", personID, err)
	}
	return id, nil
}

// EmbeddingsForPerson returns all stored embeddings for a person.
func (d *DB) EmbeddingsForPerson(personID string) ([]Embedding, error) {
	rows, err := d.Query(
		`SELECT id, person_id, embedding, dim, created_at FROM face_embeddings WHERE person_id = ? ORDER BY created_at`,
		personID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings for %s: %w", personID, err)
	}
	defer rows.Close()
	return scanEmbeddings(rows)
}

// DeletePerson removes all embeddings for a person, returning the number
// of deleted records.
func (d *DB) DeletePerson(personID string) (int64, error) {
	res, err := d.Exec(`DELETE FROM face_embeddings WHERE person_id = ?`, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings for %s: %w", personID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// LoadAll returns every stored embedding as similarity index records, in
// insertion order.
func (d *DB) LoadAll() ([]reid.Record, error) {
	rows, err := d.Query(`SELECT person_id, embedding FROM face_embeddings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	defer rows.Close()

	var records []reid.Record
	for rows.Next() {
		var personID string
		var blob []byte
		if err := rows.Scan(&personID, &blob); err != nil {
			return nil, err
		}
		records = append(records, reid.Record{PersonID: personID, Vector: decodeVector(blob)})
	}
	return records, rows.Err()
}

// Counts returns the number of distinct persons and total embeddings.
func (d *DB) Counts() (persons, embeddings int, err error) {
	row := d.QueryRow(`SELECT COUNT(DISTINCT person_id), COUNT(*) FROM face_embeddings`)
	if err := row.Scan(&persons, &embeddings); err != nil {
		return 0, 0, fmt.Errorf("failed to count catalog: %w", err)
	}
	return persons, embeddings, nil
}

func scanEmbeddings(rows *sql.Rows) ([]Embedding, error) {
	var out []Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		if err := rows.Scan(&e.ID, &e.PersonID, &blob, &e.Dim, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Vector = decodeVector(blob)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Vectors are stored as little-endian float32 blobs: 4 bytes per
// component, dimensionality recorded alongside.

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
