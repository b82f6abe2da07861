// Package dataset defines the dataset configuration record which tells an
// importer which source files to download for a release.
//
// A record is JSON like:
//
//	{
//	  "release_year": 2022,
//	  "parameter": [
//	    {"URL": "https://...", "FILE_TYPE": "County", "FILE_NAME": "county_raw_data_2022.csv"}
//	  ]
//	}
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
)

var (
	ErrInvalidConfig      = errors.New("dataset: invalid configuration")
	ErrInvalidFileType    = fmt.Errorf("%w: FILE_TYPE", ErrInvalidConfig)
	ErrInvalidFileName    = fmt.Errorf("%w: FILE_NAME", ErrInvalidConfig)
	ErrInvalidURL         = fmt.Errorf("%w: URL", ErrInvalidConfig)
	ErrDuplicateFileName  = fmt.Errorf("%w: duplicated FILE_NAME", ErrInvalidConfig)
	ErrInvalidReleaseYear = fmt.Errorf("%w: release_year", ErrInvalidConfig)
	ErrNoParameter        = fmt.Errorf("%w: no parameter", ErrInvalidConfig)
)

// GeoLevel is the geographic level which a source file is aggregated by.
type GeoLevel string

const (
	County      GeoLevel = "County"
	City        GeoLevel = "City"
	ZipCode     GeoLevel = "ZipCode"
	CensusTract GeoLevel = "CensusTract"
)

// GeoLevels lists all valid geo levels.
func GeoLevels() []GeoLevel {
	return []GeoLevel{County, City, ZipCode, CensusTract}
}

// tokens which FILE_NAME should contain to tell its geo level.
var fileNameTokens = map[GeoLevel][]string{
	County:      {"county"},
	City:        {"city", "place"},
	ZipCode:     {"zip"},
	CensusTract: {"tract"},
}

func ParseGeoLevel(s string) (GeoLevel, error) {
	for _, g := range GeoLevels() {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf(
		"%w: %q is not one of %v", ErrInvalidFileType, s, GeoLevels(),
	)
}

func (g *GeoLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFileType, err)
	}
	parsed, err := ParseGeoLevel(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

func (g GeoLevel) String() string {
	return string(g)
}

// Parameter is a source file to be imported.
type Parameter struct {
	URL      string   `json:"URL"`
	FileType GeoLevel `json:"FILE_TYPE"`
	FileName string   `json:"FILE_NAME"`
}

// TemplateName is the name of the template mapping file written beside the
// cleaned CSV: FILE_NAME with its extension replaced by ".tmcf".
func (p Parameter) TemplateName() string {
	return strings.TrimSuffix(p.FileName, path.Ext(p.FileName)) + TemplateExt
}

// extension of template mapping files. FILE_NAME can not have it.
const TemplateExt = ".tmcf"

// Config is the dataset configuration record.
type Config struct {
	ReleaseYear int         `json:"release_year"`
	Parameters  []Parameter `json:"parameter"`
}

// Validate checks invariants of the record.
//
// # Returns
//
// - error: wraps ErrInvalidConfig and a more specific sentinel, if any.
func (c Config) Validate() error {
	if c.ReleaseYear <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReleaseYear, c.ReleaseYear)
	}
	if len(c.Parameters) == 0 {
		return ErrNoParameter
	}

	// output file name -> FILE_NAME writing it
	seen := map[string]string{}
	for nth, p := range c.Parameters {
		if err := p.validate(c.ReleaseYear); err != nil {
			return fmt.Errorf("parameter[%d]: %w", nth, err)
		}
		for _, out := range []string{p.FileName, p.TemplateName()} {
			if by, ok := seen[out]; ok {
				return fmt.Errorf(
					"parameter[%d]: %w: %s and %s both write %s",
					nth, ErrDuplicateFileName, by, p.FileName, out,
				)
			}
			seen[out] = p.FileName
		}
	}
	return nil
}

func (p Parameter) validate(releaseYear int) error {
	if _, err := ParseGeoLevel(string(p.FileType)); err != nil {
		return err
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: no host: %s", ErrInvalidURL, p.URL)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("%w: no path: %s", ErrInvalidURL, p.URL)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme: %s", ErrInvalidURL, p.URL)
	}

	name := p.FileName
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || path.Base(name) != name {
		return fmt.Errorf("%w: not a file name: %q", ErrInvalidFileName, name)
	}
	if strings.EqualFold(path.Ext(name), TemplateExt) {
		return fmt.Errorf("%w: %s is the extension of templates: %q", ErrInvalidFileName, TemplateExt, name)
	}
	lower := strings.ToLower(name)
	hasToken := false
	for _, tok := range fileNameTokens[p.FileType] {
		if strings.Contains(lower, tok) {
			hasToken = true
			break
		}
	}
	if !hasToken {
		return fmt.Errorf(
			"%w: %q does not tell geo level %s (expected one of %v)",
			ErrInvalidFileName, name, p.FileType, fileNameTokens[p.FileType],
		)
	}
	if !strings.Contains(name, strconv.Itoa(releaseYear)) {
		return fmt.Errorf(
			"%w: %q does not tell release year %d", ErrInvalidFileName, name, releaseYear,
		)
	}
	return nil
}

// Parse decodes and validates a record.
//
// Unknown fields are rejected.
func Parse(b []byte) (Config, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var c Config
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: trailing data after the record", ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads a record from the file.
//
// # Returns
//
// - Config: parsed record
//
// - []byte: raw content of the file. It is what the dual-copy check compares.
//
// - error
func Load(filepath string) (Config, []byte, error) {
	b, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, nil, err
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, nil, fmt.Errorf("%s: %w", filepath, err)
	}
	return c, b, nil
}
