package catalogdb

type BatchFile struct {
	ID          int64  `db:"id" json:"id"`
	RunID       string `db:"run_id" json:"run_id"`
	Device      string `db:"device" json:"device"`
	Path        string `db:"path" json:"path"`
	WindowStart int64  `db:"window_start" json:"window_start"`
	WindowEnd   int64  `db:"window_end" json:"window_end"`
	Rows        int    `db:"rows" json:"rows"`
	Compressed  bool   `db:"compressed" json:"compressed"`
	// CRC-16/ARC over the file bytes as stored on disk
	CRC16 uint16 `db:"crc16" json:"crc16"`
}
