package parser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/marcboeker/go-duckdb"

	"github.com/tracelens/backend/internal/models"
)

// RecordStore keeps a decoded table in a DuckDB file so large logs can be
// paged and filtered without holding every record in memory, and so a table
// survives a server restart.
type RecordStore struct {
	db     *sql.DB
	dbPath string

	mu    sync.RWMutex
	count int
}

// NewRecordStore creates a store for one session in dir.
func NewRecordStore(dir, sessionID string) (*RecordStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	dbPath := filepath.Join(dir, fmt.Sprintf("session_%s.duckdb", sessionID))
	os.Remove(dbPath)
	return OpenRecordStore(dbPath)
}

// OpenRecordStore opens (or creates) the store at dbPath.
func OpenRecordStore(dbPath string) (*RecordStore, error) {
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range []string{
			"PRAGMA memory_limit='512MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		} {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			line         INTEGER PRIMARY KEY,
			severity     TINYINT NOT NULL,
			row_color    INTEGER NOT NULL,
			thread_id    VARCHAR NOT NULL,
			thread_color INTEGER NOT NULL,
			hidden       BOOLEAN NOT NULL,
			cells        VARCHAR NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	rs := &RecordStore{db: db, dbPath: dbPath}
	if err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&rs.count); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	return rs, nil
}

// Path returns the database file location.
func (rs *RecordStore) Path() string { return rs.dbPath }

// Len returns the number of stored records.
func (rs *RecordStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.count
}

func packRGB(c models.RGB) int32 {
	return int32(c.R)<<16 | int32(c.G)<<8 | int32(c.B)
}

func unpackRGB(v int32) models.RGB {
	return models.RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Write appends every record of table using the DuckDB appender.
func (rs *RecordStore) Write(ctx context.Context, table *models.Table) error {
	conn, err := rs.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		appender, err := duckdb.NewAppenderFromConn(dConn, "", "records")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i := range table.Records {
			if i%progressInterval == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			r := &table.Records[i]
			cells, err := json.Marshal(r.Cells)
			if err != nil {
				return fmt.Errorf("failed to encode line %d: %w", r.LineNumber, err)
			}
			threadColor := int32(-1)
			if r.ThreadColor != nil {
				threadColor = packRGB(*r.ThreadColor)
			}
			if err := appender.AppendRow(
				int32(r.LineNumber),
				int8(r.Severity),
				packRGB(r.RowColor),
				table.ThreadID(r),
				threadColor,
				r.Hidden,
				string(cells),
			); err != nil {
				return fmt.Errorf("failed to append line %d: %w", r.LineNumber, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	rs.mu.Lock()
	rs.count += len(table.Records)
	rs.mu.Unlock()
	return nil
}

// Page returns records of the 1-based page and the total count they are drawn
// from. With visibleOnly hidden records are skipped.
func (rs *RecordStore) Page(ctx context.Context, page, pageSize int, visibleOnly bool) ([]models.Record, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 200
	}
	where := ""
	if visibleOnly {
		where = " WHERE NOT hidden"
	}

	var total int
	if err := rs.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query failed: %w", err)
	}

	rows, err := rs.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT line, severity, row_color, thread_color, hidden, cells FROM records%s ORDER BY line LIMIT %d OFFSET %d",
		where, pageSize, (page-1)*pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]models.Record, 0, pageSize)
	for rows.Next() {
		var (
			r           models.Record
			severity    int8
			rowColor    int32
			threadColor int32
			cells       string
		)
		if err := rows.Scan(&r.LineNumber, &severity, &rowColor, &threadColor, &r.Hidden, &cells); err != nil {
			return nil, 0, fmt.Errorf("scan failed: %w", err)
		}
		if err := json.Unmarshal([]byte(cells), &r.Cells); err != nil {
			return nil, 0, fmt.Errorf("failed to decode line %d: %w", r.LineNumber, err)
		}
		r.Severity = models.Severity(severity)
		r.RowColor = unpackRGB(rowColor)
		if threadColor >= 0 {
			c := unpackRGB(threadColor)
			r.ThreadColor = &c
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// SetThreadFilter hides every record whose thread id is not in threads.
// An empty set unhides everything.
func (rs *RecordStore) SetThreadFilter(ctx context.Context, threads []string) error {
	if len(threads) == 0 {
		_, err := rs.db.ExecContext(ctx, "UPDATE records SET hidden = false")
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(threads)), ",")
	args := make([]any, len(threads))
	for i, t := range threads {
		args[i] = t
	}
	_, err := rs.db.ExecContext(ctx,
		"UPDATE records SET hidden = thread_id NOT IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to apply thread filter: %w", err)
	}
	return nil
}

// Close closes the database. With remove set the file is deleted too.
func (rs *RecordStore) Close(remove bool) error {
	err := rs.db.Close()
	if remove {
		os.Remove(rs.dbPath)
		os.Remove(rs.dbPath + ".wal")
	}
	return err
}
