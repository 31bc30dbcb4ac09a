package batchlog

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
)

// Header is the column layout of every batch file.
var Header = []string{
	"timestamp_utc", "unix_timestamp",
	"hygro_temp", "hygro_humid",
	"light_lux_calc", "light_raw", "light_ir", "light_gain", "light_integration",
	"thermal_tl", "thermal_tr", "thermal_bl", "thermal_br", "thermal_center",
}

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Row renders the entry in Header order; absent classes leave empty cells.
func (e *LogEntry) Row() []string {
	row := make([]string, len(Header))
	row[0] = e.TimestampUTC.UTC().Format(timestampLayout)
	row[1] = strconv.FormatInt(e.UnixSeconds, 10)

	if h := e.Hygro; h != nil {
		row[2] = formatFloat(h.TemperatureC)
		row[3] = formatFloat(h.RelativeHumidityPct)
	}
	if l := e.Light; l != nil {
		row[4] = formatLux(l.Lux)
		row[5] = strconv.FormatUint(uint64(l.RawFull), 10)
		row[6] = strconv.FormatUint(uint64(l.RawIR), 10)
		row[7] = l.Gain.String()
		row[8] = l.Integration.String()
	}
	if th := e.Thermal; th != nil {
		row[9] = formatFloat(th.TopLeft)
		row[10] = formatFloat(th.TopRight)
		row[11] = formatFloat(th.BottomLeft)
		row[12] = formatFloat(th.BottomRight)
		row[13] = formatFloat(th.Center)
	}
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Saturation is written as NaN so the raw columns stay the only numbers.
func formatLux(l types.Lux) string {
	if l.Overflow {
		return "NaN"
	}
	return formatFloat(l.Value)
}

// encodeRows renders rows into one buffer so they can be written with a
// single call.
func encodeRows(entries []*LogEntry) ([]byte, int, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	n := 0
	for _, e := range entries {
		if e.Empty() {
			continue
		}
		if err := w.Write(e.Row()); err != nil {
			return nil, 0, err
		}
		n++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), n, nil
}

func encodeHeader() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(Header)
	w.Flush()
	return buf.Bytes()
}
