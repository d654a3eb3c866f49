package filetype

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedType is wrapped by Detect for any file that is neither a PDF
// nor an accepted raster image.
var ErrUnsupportedType = errors.New("unsupported file type")

// accepted is the set of MIME types the backend parser can ingest.
var accepted = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/gif":       true,
	"image/bmp":       true,
}

// Detect sniffs the content and returns its MIME type if it is an accepted
// receipt format. Detection is by magic bytes, not extension, so a renamed
// .docx does not slip through as a .pdf.
func Detect(name string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%s: empty file: %w", name, ErrUnsupportedType)
	}

	mtype := mimetype.Detect(content)
	if accepted[mtype.String()] {
		return mtype.String(), nil
	}

	return "", fmt.Errorf("%s: detected %s: %w", name, mtype.String(), ErrUnsupportedType)
}
