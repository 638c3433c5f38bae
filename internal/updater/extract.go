package updater

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

	// Every MaxMind DB ends with its metadata section, introduced by this marker
	mmdbMetadataMarker = []byte("\xab\xcd\xefMaxMind.com")
)

const (
	tarMagicOffset = 257
	rawPayloadName = "download.mmdb"
	// the metadata section lives within the last 128KiB of the file
	mmdbMetadataWindow = 128 * 1024
)

// extractArchive unpacks archivePath into dstDir
//
// Supported inputs, detected by content rather than file name:
//   - tar, optionally gzip or zstd compressed (MaxMind's .tar.gz editions)
//   - a bare .mmdb, optionally gzip or zstd compressed
//
// Anything else wraps ErrExtraction. At most maxBytes are written in
// total (<= 0 means no cap); a larger archive fails with ErrPayloadTooLarge.
func extractArchive(archivePath, dstDir string, maxBytes int64) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer f.Close()

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	outer := bufio.NewReader(f)
	magic, _ := outer.Peek(len(zstdMagic))

	var stream io.Reader = outer
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(outer)
		if err != nil {
			return fmt.Errorf("%w: corrupt gzip stream: %w", ErrExtraction, err)
		}
		defer gz.Close()
		stream = gz
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(outer)
		if err != nil {
			return fmt.Errorf("%w: corrupt zstd stream: %w", ErrExtraction, err)
		}
		defer dec.Close()
		stream = dec
	}

	var q *quota
	if maxBytes > 0 {
		q = &quota{left: maxBytes}
	}

	inner := bufio.NewReaderSize(stream, 1024)
	head, _ := inner.Peek(tarMagicOffset + 5)
	if len(head) >= tarMagicOffset+5 && string(head[tarMagicOffset:tarMagicOffset+5]) == "ustar" {
		return untar(inner, dstDir, q)
	}
	return writeRawPayload(inner, dstDir, q)
}

// quota is the number of bytes an extraction may still write; nil is unlimited
type quota struct {
	left int64
}

func (q *quota) limit(r io.Reader) io.Reader {
	if q == nil {
		return r
	}
	// one extra byte tells "exactly at the cap" from "over it"
	return io.LimitReader(r, q.left+1)
}

func (q *quota) consume(n int64) error {
	if q == nil {
		return nil
	}
	q.left -= n
	if q.left < 0 {
		return ErrPayloadTooLarge
	}
	return nil
}

// untar writes regular files and directories from r below dstDir
// Entries that would land outside dstDir are rejected
func untar(r io.Reader, dstDir string, q *quota) error {
	root := filepath.Clean(dstDir) + string(os.PathSeparator)
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: corrupt tar stream: %w", ErrExtraction, err)
		}

		target := filepath.Join(dstDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("%w: entry %q escapes the extraction directory", ErrExtraction, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: %w", ErrExtraction, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, q); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrExtraction, hdr.Name, err)
			}
		default:
			// links, devices and other specials are never part of a payload
		}
	}
}

// writeRawPayload handles archives that are the database itself
func writeRawPayload(r io.Reader, dstDir string, q *quota) error {
	target := filepath.Join(dstDir, rawPayloadName)
	if err := writeFile(target, r, q); err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	ok, err := hasMMDBMetadata(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if !ok {
		os.Remove(target)
		return fmt.Errorf("%w: download is neither a tar archive nor a MaxMind database", ErrExtraction)
	}
	return nil
}

func writeFile(target string, r io.Reader, q *quota) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, q.limit(r))
	if err == nil {
		err = q.consume(n)
	}
	if err != nil {
		out.Close()
		os.Remove(target)
		return err
	}
	return out.Close()
}

func hasMMDBMetadata(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	offset := info.Size() - mmdbMetadataWindow
	if offset < 0 {
		offset = 0
	}
	tail := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(tail, offset); err != nil && err != io.EOF {
		return false, err
	}
	return bytes.Contains(tail, mmdbMetadataMarker), nil
}
