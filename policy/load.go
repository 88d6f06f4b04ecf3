package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format names a policy document encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks a format from a file extension. Unknown extensions
// are treated as TOML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

// document is the on-disk shape of a policy. It carries only exported,
// mergeable fields; definitions are code and never come from files.
type document struct {
	Functions             List                      `json:"functions" toml:"functions" yaml:"functions"`
	Constants             List                      `json:"constants" toml:"constants" yaml:"constants"`
	SuperGlobals          List                      `json:"superglobals" toml:"superglobals" yaml:"superglobals"`
	MagicConstants        List                      `json:"magic_constants" toml:"magic_constants" yaml:"magic_constants"`
	DefinedConstants      map[string]any            `json:"defined_constants" toml:"defined_constants" yaml:"defined_constants"`
	DefinedMagicConstants map[string]any            `json:"defined_magic_constants" toml:"defined_magic_constants" yaml:"defined_magic_constants"`
	DefinedSuperGlobals   map[string]map[string]any `json:"defined_superglobals" toml:"defined_superglobals" yaml:"defined_superglobals"`
	Flags                 Flags                     `json:"flags" toml:"flags" yaml:"flags"`
}

func (d *document) policy() *Policy {
	return &Policy{
		Functions:             d.Functions,
		Constants:             d.Constants,
		SuperGlobals:          d.SuperGlobals,
		MagicConstants:        d.MagicConstants,
		DefinedConstants:      d.DefinedConstants,
		DefinedMagicConstants: d.DefinedMagicConstants,
		DefinedSuperGlobals:   d.DefinedSuperGlobals,
		Flags:                 d.Flags,
	}
}

// decode rejects keys the document does not define in every format, so a
// misspelled list name cannot silently widen the policy.
func decode(data []byte, format Format) (*document, error) {
	var doc document
	var err error
	switch format {
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.NewDecoder(bytes.NewReader(data)).Decode(&doc)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&doc); errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrConfiguration, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrConfiguration, format, err)
	}
	return &doc, nil
}

// Parse decodes a single policy document and validates it.
func Parse(data []byte, format Format) (*Policy, error) {
	doc, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	p := doc.policy()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads policy files in order and layers each over the previous:
// lists are appended, map entries are overridden, flags can only be
// switched on by a later layer.
func Load(paths ...string) (*Policy, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no policy files", ErrConfiguration)
	}

	var merged document
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
		}
		doc, err := decode(data, FormatFromPath(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := mergo.Merge(&merged, doc, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("%w: merge %s: %v", ErrConfiguration, path, err)
		}
	}

	p := merged.policy()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
