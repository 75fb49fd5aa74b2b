// Package discovery turns a directory listing into regions of channels.
package discovery

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/celldive/zarrpipe/internal/domain"
)

// DefaultExtensions are the two-part extensions accepted by NewParser.
var DefaultExtensions = []string{".ome.tif", ".ome.tiff"}

var (
	regionPattern = regexp.MustCompile(`([Rr]\d{3})(?:[^0-9]|$)`)
	roundPattern  = regexp.MustCompile(`(?:^|[^0-9.])(\d{1,2})\.(\d+)\.(\d+)(?:[^0-9.]|$)`)
)

// Match is the identity a Parser extracts from one file name.
type Match struct {
	Path   string
	Region domain.RegionID
	Round  string
	Family domain.Family
	Marker string
}

// state is threaded through the passes of a single Parse call.
type state struct {
	name   string
	stem   string
	tokens []string
	match  Match
}

// requiredPass rejects a name by returning false.
type requiredPass func(p *Parser, s *state) bool

// optionalPass enriches the match and never rejects.
type optionalPass func(s *state)

// Parser recognizes source file names. Required passes run first and stop at
// the first failure; optional passes then fill in round, family and marker.
type Parser struct {
	extensions []string
	required   []requiredPass
	optional   []optionalPass
}

// NewParser returns a parser accepting the given extensions, or
// DefaultExtensions when none are given.
func NewParser(extensions ...string) *Parser {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &Parser{
		extensions: exts,
		required:   []requiredPass{matchExtension, matchRegion, matchFinal},
		optional:   []optionalPass{extractRound, extractFamily, extractMarker},
	}
}

// Parse returns the match for path and whether all required tokens were found.
// A name that does not match is not an error.
func (p *Parser) Parse(path string) (Match, bool) {
	s := &state{name: filepath.Base(path)}
	s.match.Path = path
	for _, pass := range p.required {
		if !pass(p, s) {
			return Match{}, false
		}
	}
	s.tokens = strings.Split(s.stem, "_")
	for _, pass := range p.optional {
		pass(s)
	}
	return s.match, true
}

func matchExtension(p *Parser, s *state) bool {
	lower := strings.ToLower(s.name)
	for _, ext := range p.extensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			s.stem = s.name[:len(s.name)-len(ext)]
			return true
		}
	}
	return false
}

func matchRegion(_ *Parser, s *state) bool {
	m := regionPattern.FindStringSubmatch(s.stem)
	if m == nil {
		return false
	}
	id, err := domain.NewRegionID(m[1])
	if err != nil {
		return false
	}
	s.match.Region = id
	return true
}

func matchFinal(_ *Parser, s *state) bool {
	return strings.Contains(strings.ToUpper(s.stem), "FINAL")
}

func extractRound(s *state) {
	for _, m := range roundPattern.FindAllStringSubmatch(s.stem, -1) {
		first, err := strconv.Atoi(m[1])
		if err != nil || first < 1 || first > 15 {
			continue
		}
		s.match.Round = m[1] + "." + m[2] + "." + m[3]
		return
	}
}

func extractFamily(s *state) {
	for _, tok := range s.tokens {
		if f, ok := domain.ParseFamily(tok); ok {
			s.match.Family = f
			return
		}
	}
}

func extractMarker(s *state) {
	if !s.match.Family.HasMarker() {
		return
	}
	for i, tok := range s.tokens {
		if f, ok := domain.ParseFamily(tok); !ok || f != s.match.Family {
			continue
		}
		if i+1 >= len(s.tokens) {
			return
		}
		next := s.tokens[i+1]
		if next == "" || strings.EqualFold(next, "FINAL") {
			return
		}
		s.match.Marker = next
		return
	}
}
