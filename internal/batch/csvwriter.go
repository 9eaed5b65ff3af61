package batch

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
)

// csvWriter is a buffered CSV writer: bufio.Writer absorbs syscall
// overhead, csv.Writer sits on top, and the caller controls when Flush
// hits the OS. Unlike a long-lived per-sensor writer, one of these is
// created and closed per batch flush, so no periodic-flush goroutine is
// needed — Close flushes once at the end.
type csvWriter struct {
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
}

func newCSVWriter(path string, header []string) (*csvWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("batch: create %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	cw := csv.NewWriter(bw)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("batch: write header %s: %w", path, err)
		}
	}
	return &csvWriter{file: f, buf: bw, csv: cw}, nil
}

func (w *csvWriter) WriteRow(row []string) error {
	return w.csv.Write(row)
}

func (w *csvWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
