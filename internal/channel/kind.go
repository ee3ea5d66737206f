package channel

import (
	"strings"

	"github.com/tphakala/camerahal/internal/errors"
)

// StreamKind identifies the type of backend channel serving a stream
type StreamKind int

const (
	KindRegular StreamKind = iota
	KindRaw
	KindPicture
	KindMetadata
	KindSupport
	KindRawDump
)

var kindNames = [...]string{
	KindRegular:  "regular",
	KindRaw:      "raw",
	KindPicture:  "picture",
	KindMetadata: "metadata",
	KindSupport:  "support",
	KindRawDump:  "raw_dump",
}

// Kinds returns every stream kind in declaration order
func Kinds() []StreamKind {
	return []StreamKind{KindRegular, KindRaw, KindPicture, KindMetadata, KindSupport, KindRawDump}
}

func (k StreamKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Valid reports whether k is one of the declared kinds
func (k StreamKind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

// ParseStreamKind converts a configuration string into a StreamKind.
// Matching is case-insensitive and accepts "-" in place of "_".
func ParseStreamKind(s string) (StreamKind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range kindNames {
		if name == norm {
			return StreamKind(i), nil
		}
	}
	return 0, errors.New(ErrUnknownKind).
		Context("kind", s).
		Build()
}

// MarshalText implements encoding.TextMarshaler
func (k StreamKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, errors.New(ErrUnknownKind).Context("kind", int(k)).Build()
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *StreamKind) UnmarshalText(text []byte) error {
	parsed, err := ParseStreamKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
