package packs

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"stickerstudio/internal/imaging"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/metrics"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Archive is a finished pack export.
type Archive struct {
	Name    string
	Data    []byte
	Files   []string
	Skipped int
}

type fetched struct {
	data []byte
	err  error
}

// ExportPack fetches every member's image and zips the ones that arrived
// into a folder named after the pack. File n is the pack's nth member;
// members that could not be fetched are left out without failing the
// export.
func (m *Manager) ExportPack(ctx context.Context, packID string) (*Archive, error) {
	pack, members, err := m.lookup(packID)
	if err != nil {
		return nil, err
	}

	results := make([]fetched, len(members))
	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup
	for i, s := range members {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			data, err := m.fetcher.Fetch(ctx, ref)
			results[i] = fetched{data: data, err: err}
		}(i, s.URL)
	}
	wg.Wait()

	folder := SafeName(pack.Name)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	archive := &Archive{Name: folder + ".zip", Files: []string{}}
	modified := time.Now()

	for i, r := range results {
		if r.err != nil || len(r.data) == 0 {
			archive.Skipped++
			logger.Warn("Skipping sticker in pack export",
				"pack", pack.ID,
				"sticker", members[i].ID,
				"error", r.err)
			continue
		}

		name := fmt.Sprintf("%s/sticker-%d%s", folder, i+1, imaging.Extension(imaging.Sniff(r.data)))
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: modified,
		})
		if err != nil {
			metrics.RecordArchive("error", len(archive.Files), archive.Skipped)
			return nil, fmt.Errorf("add %s to archive: %w", name, err)
		}
		if _, err := w.Write(r.data); err != nil {
			metrics.RecordArchive("error", len(archive.Files), archive.Skipped)
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		archive.Files = append(archive.Files, name)
	}

	if err := zw.Close(); err != nil {
		metrics.RecordArchive("error", len(archive.Files), archive.Skipped)
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	archive.Data = buf.Bytes()

	metrics.RecordArchive("ok", len(archive.Files), archive.Skipped)
	logger.Info("Pack exported",
		"pack", pack.ID,
		"files", len(archive.Files),
		"skipped", archive.Skipped,
		"bytes", len(archive.Data))
	return archive, nil
}

// SafeName turns a pack name into a file name: accents are folded away,
// path separators and control characters become dashes, and double quotes
// become single quotes so the name can sit in a quoted header value.
func SafeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	folded = strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', r == ':', unicode.IsControl(r):
			return '-'
		case r == '"':
			return '\''
		}
		return r
	}, folded)
	folded = strings.Trim(strings.TrimSpace(folded), ".")
	if folded == "" {
		return "pack"
	}
	return folded
}
