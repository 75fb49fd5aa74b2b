package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/celldive/zarrpipe/internal/domain"
)

// Listing is the outcome of scanning an input directory.
type Listing struct {
	Files    []string // every regular file, in lexical order
	Matches  []Match  // files whose names carry all required tokens
	Regions  []domain.Region
	Rejected []*domain.Error
}

// Scan lists the regular files of dir in lexical order.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.DiscoveryError("", "scan", fmt.Errorf("failed to read input directory: %w", err))
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(filepath.Join(dir, e.Name()))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Discover scans dir, parses every file name and groups the matches.
func Discover(dir string, p *Parser) (*Listing, error) {
	files, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	return Classify(files, p), nil
}

// Classify parses and groups an already listed set of files.
func Classify(files []string, p *Parser) *Listing {
	l := &Listing{Files: files}
	for _, f := range files {
		if m, ok := p.Parse(f); ok {
			l.Matches = append(l.Matches, m)
		}
	}
	l.Regions, l.Rejected = Group(l.Matches)
	return l
}
