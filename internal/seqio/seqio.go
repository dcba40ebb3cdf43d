// Package seqio streams sequence records out of FASTA/FASTQ byte streams.
package seqio

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

type Format string

const (
	FormatFASTA Format = "fasta"
	FormatFASTQ Format = "fastq"
)

// FormatForExtension maps a file extension (without dot) to a parse format.
func FormatForExtension(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "fasta", "fa":
		return FormatFASTA, true
	case "fastq", "fq":
		return FormatFASTQ, true
	default:
		return "", false
	}
}

// ParseError reports a malformed record. Any parse error is fatal for the
// stream; there is no partial-success mode.
type ParseError struct {
	Format Format
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse error at line %d: %s", e.Format, e.Line, e.Reason)
}

// Open opens path for reading, transparently unwrapping gzip for .gz files.
func Open(path string) (io.ReadCloser, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(fh)
		if err != nil {
			_ = fh.Close()
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{Reader: gr, Closer: fh}, nil
	}
	return fh, nil
}
