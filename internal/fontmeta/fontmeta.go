// Package fontmeta reads the naming metadata of TrueType and OpenType fonts.
package fontmeta

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/image/font/sfnt"
	"lukechampine.com/blake3"
)

var ErrInvalidFont = errors.New("invalid font file")

// Metadata describes a font file.
type Metadata struct {
	Family    string
	Subfamily string
	Copyright string
	License   string
	Foundry   string
	Designer  string
	Checksum  string
}

// Extract parses data as a font, or the first font of a collection, and reads
// its name table.
func Extract(data []byte) (Metadata, error) {
	f, err := parse(data)
	if err != nil {
		return Metadata{}, err
	}

	var buf sfnt.Buffer
	name := func(ids ...sfnt.NameID) string {
		for _, id := range ids {
			if s, err := f.Name(&buf, id); err == nil && s != "" {
				return s
			}
		}
		return ""
	}

	return Metadata{
		Family:    name(sfnt.NameIDTypographicFamily, sfnt.NameIDFamily),
		Subfamily: name(sfnt.NameIDTypographicSubfamily, sfnt.NameIDSubfamily),
		Copyright: name(sfnt.NameIDCopyright),
		License:   name(sfnt.NameIDLicense),
		Foundry:   name(sfnt.NameIDManufacturer),
		Designer:  name(sfnt.NameIDDesigner),
		Checksum:  Checksum(data),
	}, nil
}

func parse(data []byte) (*sfnt.Font, error) {
	// sfnt.ParseCollection panics on a nil source.
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrInvalidFont)
	}
	f, err := sfnt.Parse(data)
	if err == nil {
		return f, nil
	}
	c, cerr := sfnt.ParseCollection(data)
	if cerr != nil || c.NumFonts() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFont, err)
	}
	f, err = c.Font(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFont, err)
	}
	return f, nil
}

// Checksum is the hex encoded BLAKE3 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
