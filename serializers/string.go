package serializers

import (
	"fmt"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// StringSerializer encodes strings into fixed-width keys. By default it
// truncates/zero-pads the raw UTF-8 bytes, which orders strings the same
// way Go's native byte-wise string comparison does. Passing WithLocale
// switches to a golang.org/x/text/collate collation key instead, ordering
// strings the way a human reader of that locale would expect (e.g. accents
// sorting next to their base letter) rather than by raw byte value.
type StringSerializer struct {
	width    int
	collator *collate.Collator
	buf      collate.Buffer
}

// StringOption configures a StringSerializer.
type StringOption func(*StringSerializer)

// WithLocale switches the serializer to locale-aware collation ordering
// for the given BCP 47 tag (e.g. "de", "sv") instead of raw byte order.
func WithLocale(tag string) StringOption {
	return func(s *StringSerializer) {
		s.collator = collate.New(language.MustParse(tag))
	}
}

// NewStringSerializer returns a fixed-width string serializer truncating
// or zero-padding to width bytes.
func NewStringSerializer(width int, opts ...StringOption) *StringSerializer {
	s := &StringSerializer{width: width}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Size reports the fixed key width in bytes.
func (s *StringSerializer) Size() int { return s.width }

// Encode converts a string into its fixed-width ordered key form.
func (s *StringSerializer) Encode(v any) ([]byte, error) {
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("serializers: StringSerializer cannot encode %T", v)
	}
	var raw []byte
	if s.collator != nil {
		raw = s.collator.KeyFromString(&s.buf, str)
	} else {
		raw = []byte(str)
	}
	out := make([]byte, s.width)
	n := copy(out, raw)
	_ = n
	return out, nil
}

// Decode is lossy for truncated or collated keys: it returns the fixed-width
// byte slice with trailing zero padding trimmed, not the original string
// (the collation key form is not reversible).
func (s *StringSerializer) Decode(b []byte) (any, error) {
	if len(b) != s.width {
		return nil, fmt.Errorf("serializers: StringSerializer.Decode wants %d bytes, got %d", s.width, len(b))
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end]), nil
}
