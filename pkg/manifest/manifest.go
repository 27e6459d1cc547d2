// Package manifest extracts file descriptors from a portal download manifest.
//
// A manifest is the XML document the portal exports from "Open Downloads
// as XML". Its root holds named <folder> groups, each containing <file>
// entries whose attributes describe one downloadable file:
//
//	<organismDownloads name="Example">
//	  <folder name="Run A">
//	    <file filename="sample.fastq.gz" url="/ext-api/downloads/get_tape_file?blocking=true&amp;url=/x" md5="..." sizeInBytes="0"/>
//	  </folder>
//	</organismDownloads>
package manifest

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/fsutil"
)

// Attribute names interpreted by the extractor. Everything else is kept
// verbatim in Descriptor.Metadata.
const (
	attrURL         = "url"
	attrFilename    = "filename"
	attrMD5         = "md5"
	attrSize        = "size"
	attrSizeInBytes = "sizeInBytes"
	attrLabel       = "label"
	attrTimestamp   = "timestamp"
)

// Descriptor is one downloadable file listed in a manifest.
type Descriptor struct {
	URL          string // remote path fragment, appended to the portal base URL
	Filename     string
	ParentFolder string // name of the enclosing folder group, may be empty
	MD5          string // expected hex digest, may be empty
	Size         int64  // bytes, -1 when the manifest does not say
	SizeLabel    string // human readable size as published, e.g. "1.2 GB"
	Label        string
	Timestamp    string
	Metadata     map[string]string
}

// HasChecksum reports whether the manifest published a digest for the file.
func (d Descriptor) HasChecksum() bool { return d.MD5 != "" }

type document struct {
	XMLName xml.Name
	Folders []folder `xml:"folder"`
}

type folder struct {
	Name  string `xml:"name,attr"`
	Files []file `xml:"file"`
}

type file struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) ([]Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrManifestParse, "open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	descs, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}
	return descs, nil
}

// Parse reads a manifest and returns its descriptors in document order.
// Each file inherits the name of the top-level folder it appears in.
func Parse(r io.Reader) ([]Descriptor, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.ErrManifestParseWithDetails("malformed document: %v", err)
	}
	if len(doc.Folders) == 0 {
		return nil, errors.ErrManifestParseWithDetails("no <folder> groups under <%s>", doc.XMLName.Local)
	}

	var out []Descriptor
	for fi, fo := range doc.Folders {
		for i, f := range fo.Files {
			d, err := f.descriptor(fo.Name)
			if err != nil {
				return nil, errors.Wrapf(err, "folder %d (%q) file %d", fi, fo.Name, i)
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func (f file) descriptor(parent string) (Descriptor, error) {
	d := Descriptor{
		ParentFolder: parent,
		Size:         -1,
		Metadata:     make(map[string]string),
	}
	for _, a := range f.Attrs {
		v := strings.TrimSpace(a.Value)
		switch a.Name.Local {
		case attrURL:
			d.URL = v
		case attrFilename:
			d.Filename = v
		case attrMD5:
			d.MD5 = strings.ToLower(v)
		case attrSize:
			d.SizeLabel = v
		case attrSizeInBytes:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				d.Size = n
			}
		case attrLabel:
			d.Label = v
		case attrTimestamp:
			d.Timestamp = v
		default:
			d.Metadata[a.Name.Local] = a.Value
		}
	}
	if d.URL == "" {
		return Descriptor{}, errors.ErrManifestParseWithDetails("missing %q attribute", attrURL)
	}
	if d.Filename == "" {
		return Descriptor{}, errors.ErrManifestParseWithDetails("missing %q attribute", attrFilename)
	}
	if fsutil.FileName(d.Filename) == "" {
		return Descriptor{}, errors.ErrManifestParseWithDetails("%q attribute %q does not name a file", attrFilename, d.Filename)
	}
	return d, nil
}
