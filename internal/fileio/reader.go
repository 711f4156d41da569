// Package fileio implements FileReader (spec §4.2): opening a Skype export,
// whether it is a bare JSON document or a TAR archive (optionally gzip or
// bzip2 compressed), and exposing it either as a whole Document or as a
// lazy, single-pass stream of conversations.
package fileio

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/model"
)

// Document is the result of Read/ReadObject/ReadTarball: the parsed export
// plus the verbatim bytes it was parsed from (the Extractor writes these
// bytes to output/raw_data.json; the archive row's raw_data_blob is read
// separately from the original input file by the Loader).
type Document struct {
	Export model.RawExport
	Raw    []byte
}

// Read dispatches on extension: ".json" reads the whole file; ".tar"
// delegates to ReadTarball with auto-selection enabled.
func Read(path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tar":
		return ReadTarball(path, true)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "open input file", err)
		}
		defer f.Close()
		return ReadObject(f, path)
	}
}

// ReadObject parses a single JSON document from r. name is used only for
// error messages.
func ReadObject(r io.Reader, name string) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, fmt.Sprintf("read %s", name), err)
	}
	var export model.RawExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, fmt.Sprintf("parse JSON in %s", name), err)
	}
	return &Document{Export: export, Raw: raw}, nil
}

// ReadTarball opens a TAR archive (optionally gzip/bzip2 compressed,
// detected by magic bytes) and selects a single .json entry from it.
//
// If autoSelect is true: a lone .json entry is used; with several, the
// first encountered in archive order wins. If autoSelect is false and more
// than one .json entry exists, ReadTarball fails with AmbiguousArchiveError.
func ReadTarball(path string, autoSelect bool) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "open tarball", err)
	}
	defer f.Close()

	tr, err := decompressingTarReader(f)
	if err != nil {
		return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "detect tarball compression", err)
	}

	type entry struct {
		name string
		data []byte
	}
	var jsonEntries []entry

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "read tar entry", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := guardPath(hdr.Name); err != nil {
			return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "tar entry path traversal", err)
		}
		if strings.ToLower(filepath.Ext(hdr.Name)) != ".json" {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, fmt.Sprintf("read tar entry %s", hdr.Name), err)
		}
		jsonEntries = append(jsonEntries, entry{name: hdr.Name, data: data})
	}

	switch {
	case len(jsonEntries) == 0:
		return nil, etlerrors.NewExtractionError(etlerrors.PhaseExtract, "tarball contains no .json entries", nil)
	case len(jsonEntries) == 1:
		return ReadObject(bytes.NewReader(jsonEntries[0].data), jsonEntries[0].name)
	case autoSelect:
		return ReadObject(bytes.NewReader(jsonEntries[0].data), jsonEntries[0].name)
	default:
		names := make([]string, len(jsonEntries))
		for i, e := range jsonEntries {
			names[i] = e.name
		}
		sort.Strings(names)
		return nil, etlerrors.NewAmbiguousArchiveError(fmt.Sprintf("tarball contains multiple .json entries: %s", strings.Join(names, ", ")))
	}
}

// guardPath rejects tar entries that could escape the extraction root.
func guardPath(name string) error {
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("entry %q has absolute path", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("entry %q contains a parent-directory segment", name)
		}
	}
	return nil
}

// decompressingTarReader wraps f with a gzip or bzip2 decompressor when the
// magic bytes indicate one, falling back to reading the tar stream directly.
func decompressingTarReader(f *os.File) (*tar.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, err
	}

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return tar.NewReader(gz), nil
	case len(magic) >= 3 && magic[0] == 'B' && magic[1] == 'Z' && magic[2] == 'h':
		return tar.NewReader(bzip2.NewReader(br)), nil
	default:
		return tar.NewReader(br), nil
	}
}
