package statmgr

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	fileTimeLayout = "20060102-150405"

	SeriesHeader = "time(sec), throughput(txs), avg_latency(ms), min(ms), max(ms), 25th_lat(ms), median_lat(ms), 75th_lat(ms)"
)

// Writer stores reports as <yyyyMMdd-HHmmss>[-<label>].{txt,csv,json} in Dir.
type Writer struct {
	Dir   string
	Label string

	// SkipJSON disables the machine readable copy of the report.
	SkipJSON bool

	Now func() time.Time
}

type Files struct {
	Summary string `json:"summary"`
	Series  string `json:"series"`
	JSON    string `json:"json,omitempty"`
}

func (w *Writer) BaseName(t time.Time) string {
	name := t.Format(fileTimeLayout)
	if w.Label != "" {
		name += "-" + w.Label
	}
	return name
}

func (w *Writer) Write(r Report) (files Files, err error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return files, fmt.Errorf("create report directory: %w", err)
	}

	base := filepath.Join(dir, w.BaseName(now()))
	files.Summary = base + ".txt"
	files.Series = base + ".csv"

	var errs []error
	if err := writeFile(files.Summary, func(out io.Writer) error { return WriteSummary(out, r) }); err != nil {
		errs = append(errs, fmt.Errorf("write summary report: %w", err))
	}
	if err := writeFile(files.Series, func(out io.Writer) error { return WriteSeries(out, r) }); err != nil {
		errs = append(errs, fmt.Errorf("write time series report: %w", err))
	}
	if !w.SkipJSON {
		files.JSON = base + ".json"
		if err := writeFile(files.JSON, func(out io.Writer) error { return WriteJSON(out, r) }); err != nil {
			errs = append(errs, fmt.Errorf("write json report: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return files, err
	}

	log.WithField("summary", files.Summary).WithField("series", files.Series).Info("benchmark report written")
	return files, nil
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	buf := bufio.NewWriter(f)
	if err := fn(buf); err != nil {
		return err
	}
	return buf.Flush()
}

func WriteSummary(out io.Writer, r Report) error {
	ew := &errWriter{w: out}
	ew.printf("# of txns (including aborted) during benchmark period: %d\n", r.Total)
	for _, d := range r.Details {
		if d.Committed {
			ew.printf("%v: %d ms\n", d.Type, d.LatencyMs)
		} else {
			ew.printf("%v: ABORTED\n", d.Type)
		}
	}
	ew.printf("\n")
	for _, t := range r.Types {
		ew.printf("%v - committed: %d, aborted: %d, avg latency: %.2f ms\n",
			t.Type, t.Committed, t.Aborted, t.AvgLatencyMs)
	}
	ew.printf("TOTAL - committed: %d, aborted: %d, avg latency: %.2f ms\n",
		r.Committed, r.Aborted, r.AvgLatencyMs)
	return ew.err
}

func WriteSeries(out io.Writer, r Report) error {
	ew := &errWriter{w: out}
	ew.printf("%s\n", SeriesHeader)
	for _, b := range r.Buckets {
		ew.printf("%d,%d,%.2f,%d,%d,%d,%d,%d\n",
			b.StartSec, b.Throughput, b.AvgMs, b.MinMs, b.MaxMs, b.P25Ms, b.P50Ms, b.P75Ms)
	}
	ew.printf("# of txns (including aborted) during benchmark period: %d\n", r.Total)
	ew.printf("TOTAL - committed: %d, aborted: %d, avg latency: %.2f ms\n",
		r.Committed, r.Aborted, r.AvgLatencyMs)
	return ew.err
}

func WriteJSON(out io.Writer, r Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
