package seqio

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"seqscope/go-backend/pkg/models"
)

// maxLine allows very long single-line sequences (64 MiB).
const maxLine = 64 * 1024 * 1024

// Stream parses r in the given format and calls emit for every record, in
// input order. It is cancelable between records. An empty input is a
// success with zero emissions, not an error.
func Stream(ctx context.Context, r io.Reader, format Format, emit func(models.SequenceRecord) error) error {
	switch format {
	case FormatFASTQ:
		return streamFASTQ(ctx, r, emit)
	default:
		return streamFASTA(ctx, r, emit)
	}
}

// ReadAll collects the whole stream into memory. The classification client
// needs the full batch anyway, so sessions read eagerly.
func ReadAll(ctx context.Context, r io.Reader, format Format) ([]models.SequenceRecord, error) {
	var records []models.SequenceRecord
	err := Stream(ctx, r, format, func(rec models.SequenceRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return sc
}

func streamFASTA(ctx context.Context, r io.Reader, emit func(models.SequenceRecord) error) error {
	sc := newScanner(r)

	var (
		id      string
		started bool
		seq     = make([]byte, 0, 1<<16)
		lineNo  int
	)

	flush := func() error {
		if !started {
			return nil
		}
		residues := string(seq)
		return emit(models.SequenceRecord{ID: id, Residues: residues, Length: len(residues)})
	}

	for sc.Scan() {
		lineNo++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return err
			}
			id = headerID(line[1:])
			started = true
			seq = seq[:0]
			continue
		}
		if !started {
			return &ParseError{Format: FormatFASTA, Line: lineNo, Reason: "sequence data before first header"}
		}
		seq = append(seq, line...)
	}
	if err := sc.Err(); err != nil {
		return &ParseError{Format: FormatFASTA, Line: lineNo, Reason: err.Error()}
	}
	return flush()
}

func streamFASTQ(ctx context.Context, r io.Reader, emit func(models.SequenceRecord) error) error {
	sc := newScanner(r)

	lineNo := 0
	next := func() ([]byte, bool) {
		for sc.Scan() {
			lineNo++
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			return line, true
		}
		return nil, false
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		header, ok := next()
		if !ok {
			break
		}
		if header[0] != '@' {
			return &ParseError{Format: FormatFASTQ, Line: lineNo, Reason: "record header must start with '@'"}
		}
		id := headerID(header[1:])

		residues, ok := next()
		if !ok {
			return &ParseError{Format: FormatFASTQ, Line: lineNo, Reason: "truncated record: missing sequence line"}
		}
		sep, ok := next()
		if !ok || sep[0] != '+' {
			return &ParseError{Format: FormatFASTQ, Line: lineNo, Reason: "truncated record: missing '+' separator"}
		}
		quality, ok := next()
		if !ok {
			return &ParseError{Format: FormatFASTQ, Line: lineNo, Reason: "truncated record: missing quality line"}
		}
		if len(quality) != len(residues) {
			return &ParseError{Format: FormatFASTQ, Line: lineNo, Reason: "quality length does not match sequence length"}
		}

		rec := models.SequenceRecord{ID: id, Residues: string(residues), Length: len(residues)}
		if err := emit(rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return &ParseError{Format: FormatFASTQ, Line: lineNo, Reason: err.Error()}
	}
	return nil
}

// headerID keeps only the first whitespace-delimited field of a header.
func headerID(hdr []byte) string {
	fields := strings.Fields(string(hdr))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
