// Package media converts a raw recording into the inline-data
// representation the inference service accepts. Encoding happens once per
// session; the encoded part is reused verbatim for every refinement call.
package media

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/xkilldash9x/bugreel/api/schemas"
)

// DefaultMIMEType is applied when the source declares no content type.
// Screen recordings are overwhelmingly mp4, so that is the default.
const DefaultMIMEType = "video/mp4"

// ReadError reports that the attached recording could not be converted to
// a transmittable form. It is fatal for the call it occurs in.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read media %q: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// EncodeFile reads the recording at path and returns its inline-data part.
// declaredMIME overrides MIME detection; when empty, the type is inferred
// from the file extension and falls back to DefaultMIMEType.
func EncodeFile(path, declaredMIME string) (*schemas.InlineData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	data, err := Encode(f, resolveMIME(path, declaredMIME))
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return data, nil
}

// Encode base64-encodes the blob read from r under the given MIME type.
// An empty mimeType gets DefaultMIMEType.
func Encode(r io.Reader, mimeType string) (*schemas.InlineData, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return &schemas.InlineData{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// resolveMIME picks the declared type, then the extension-derived type,
// then the default.
func resolveMIME(path, declared string) string {
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		// TypeByExtension may append charset parameters; keep the bare type.
		if idx := strings.Index(byExt, ";"); idx != -1 {
			byExt = byExt[:idx]
		}
		return strings.TrimSpace(byExt)
	}
	return DefaultMIMEType
}
