package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// Validate checks the archive envelope: at most MaxBundleSize both packed and
// unpacked, a readable gzip tar, at least one file and a definition at the
// root. config.yaml wins over config.yml when both are present. The
// definition itself is checked by Parse.
func Validate(data []byte) *ValidationResult {
	res := &ValidationResult{Size: int64(len(data))}
	if len(data) > MaxBundleSize {
		return res.fail(ErrBundleTooLarge)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return res.fail(fmt.Errorf("%w: %v", ErrInvalidFormat, err))
	}
	defer gz.Close()

	res.Size = 0
	var primary, alt []byte
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res.fail(fmt.Errorf("%w: %v", ErrInvalidFormat, err))
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}

		res.Files = append(res.Files, hdr.Name)
		if res.Size += hdr.Size; res.Size > MaxBundleSize {
			return res.fail(ErrBundleTooLarge)
		}

		switch hdr.Name {
		case DefinitionFile:
			primary, err = io.ReadAll(tr)
		case DefinitionFileAlt:
			alt, err = io.ReadAll(tr)
		}
		if err != nil {
			return res.fail(fmt.Errorf("failed to read %s: %w", hdr.Name, err))
		}
	}

	switch {
	case len(res.Files) == 0:
		return res.fail(ErrEmptyBundle)
	case primary != nil:
		res.Definition = primary
	case alt != nil:
		res.Definition = alt
	default:
		return res.fail(ErrMissingDefinition)
	}
	res.Valid = true
	return res
}

func (r *ValidationResult) fail(err error) *ValidationResult {
	r.Valid = false
	r.Error = err
	return r
}

// Load validates a bundle archive and parses its definition.
func Load(data []byte) (*Definition, error) {
	result := Validate(data)
	if !result.Valid {
		return nil, result.Error
	}
	return Parse(result.Definition)
}
