package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	uriPrefix       = "data:"
	imageMIMEPrefix = "image/"
	base64Marker    = ";base64,"
)

// ErrNotDataURI is returned when a value does not carry the data URI scheme at all.
var ErrNotDataURI = errors.New("not a data URI")

// Payload is a decoded image data URI: the declared MIME type plus raw bytes.
type Payload struct {
	MIMEType string
	Data     []byte
}

// Parse decodes a base64 image data URI of the form
// data:image/<subtype>;base64,<payload>. Anything that does not declare an
// image MIME type, or whose body is not valid base64, is rejected.
func Parse(uri string) (Payload, error) {
	if !strings.HasPrefix(uri, uriPrefix) {
		return Payload{}, ErrNotDataURI
	}

	rest := uri[len(uriPrefix):]
	idx := strings.Index(rest, base64Marker)
	if idx < 0 {
		return Payload{}, errors.New("missing base64 marker")
	}

	mimeType := rest[:idx]
	if !strings.HasPrefix(mimeType, imageMIMEPrefix) || len(mimeType) == len(imageMIMEPrefix) {
		return Payload{}, fmt.Errorf("MIME type %q is not an image type", mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(rest[idx+len(base64Marker):])
	if err != nil {
		return Payload{}, fmt.Errorf("invalid base64 payload: %w", err)
	}
	if len(data) == 0 {
		return Payload{}, errors.New("empty image payload")
	}

	return Payload{MIMEType: mimeType, Data: data}, nil
}

// New builds a payload from raw image bytes and their MIME type.
func New(mimeType string, data []byte) Payload {
	return Payload{MIMEType: mimeType, Data: data}
}

// URI re-encodes the payload as a data URI string.
func (p Payload) URI() string {
	return uriPrefix + p.MIMEType + base64Marker + base64.StdEncoding.EncodeToString(p.Data)
}

// IsZero reports whether the payload holds no image.
func (p Payload) IsZero() bool {
	return p.MIMEType == "" && len(p.Data) == 0
}
