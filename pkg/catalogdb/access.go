package catalogdb

import (
	"fmt"
	"os"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/batchlog"
	"github.com/sigurn/crc16"
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// FileChecksum returns the CRC-16/ARC of the file at path.
func FileChecksum(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return crc16.Checksum(data, crcTable), nil
}

// RecordBatchFile checksums a closed file and stores it in the catalog.
// Recording the same path twice replaces the earlier row.
func (c *Catalog) RecordBatchFile(f batchlog.ClosedFile, runID string) (*BatchFile, error) {
	sum, err := FileChecksum(f.Path)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", f.Path, err)
	}

	row := &BatchFile{
		RunID:       runID,
		Device:      f.Device,
		Path:        f.Path,
		WindowStart: f.WindowStart.Unix(),
		WindowEnd:   f.WindowEnd.Unix(),
		Rows:        f.Rows,
		Compressed:  f.Compressed,
		CRC16:       sum,
	}

	res, err := c.db.Exec(
		"INSERT OR REPLACE INTO batch_files "+
			"(run_id, device, path, window_start, window_end, rows, compressed, crc16) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		row.RunID,
		row.Device,
		row.Path,
		row.WindowStart,
		row.WindowEnd,
		row.Rows,
		row.Compressed,
		row.CRC16,
	)
	if err != nil {
		return nil, err
	}
	if row.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return row, nil
}

// ListBatchFiles returns files whose window started at or after since,
// oldest first.
func (c *Catalog) ListBatchFiles(since time.Time) ([]BatchFile, error) {
	rows, err := c.db.Query(
		"SELECT id, run_id, device, path, window_start, window_end, rows, compressed, crc16 "+
			"FROM batch_files WHERE window_start >= ? ORDER BY window_start, id",
		since.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []BatchFile{}
	for rows.Next() {
		var f BatchFile
		if err := rows.Scan(
			&f.ID,
			&f.RunID,
			&f.Device,
			&f.Path,
			&f.WindowStart,
			&f.WindowEnd,
			&f.Rows,
			&f.Compressed,
			&f.CRC16,
		); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Verify recomputes the checksum of a catalogued file.
func (f BatchFile) Verify() (bool, error) {
	sum, err := FileChecksum(f.Path)
	if err != nil {
		return false, err
	}
	return sum == f.CRC16, nil
}
