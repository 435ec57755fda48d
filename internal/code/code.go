// Package code turns raw scanner text into a DecodedCode: trimming, length
// checks, retail checksum validation and structured QR payload parsing.
package code

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/model"
)

// MinLength is the shortest trimmed text accepted as a candidate.
const MinLength = 3

const DefaultPayloadPrefix = "SCN"

// Structured payload keys that must be present for the text to count as a QR payload.
const (
	KeyVersion = "version"
	KeyType    = "type"
	KeyID      = "id"
)

// Normalize trims the text and reports whether it is long enough to be a candidate.
func Normalize(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if len([]rune(text)) < MinLength {
		return "", false
	}
	return text, true
}

// ValidChecksum checks the trailing check digit of 12 (UPC-A) and 13 (EAN-13)
// digit codes. Any other text is not checksum-checked and reports true.
func ValidChecksum(text string) bool {
	if len(text) != 12 && len(text) != 13 {
		return true
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return true
		}
	}

	sum := 0
	weight := 3
	for i := len(text) - 2; i >= 0; i-- {
		sum += int(text[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	check := (10 - sum%10) % 10
	return check == int(text[len(text)-1]-'0')
}

type Parser struct {
	prefix string
}

func NewParser(prefix string) *Parser {
	if prefix == "" {
		prefix = DefaultPayloadPrefix
	}
	return &Parser{prefix: prefix}
}

// ParsePayload parses "<prefix>:<version>|key:value|..." text. It returns nil
// unless version, type and id are all present and non-empty.
func (p *Parser) ParsePayload(text string) map[string]string {
	segments := strings.Split(text, "|")
	head, version, ok := strings.Cut(segments[0], ":")
	if !ok || head != p.prefix {
		return nil
	}

	payload := map[string]string{KeyVersion: strings.TrimSpace(version)}
	for _, segment := range segments[1:] {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			return nil
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil
		}
		payload[key] = strings.TrimSpace(value)
	}

	for _, required := range []string{KeyVersion, KeyType, KeyID} {
		if payload[required] == "" {
			return nil
		}
	}
	return payload
}

// Decode normalizes raw text into a DecodedCode. The second return value is
// false for text that is not a candidate at all.
func (p *Parser) Decode(raw string, method model.ScanMethod) (model.DecodedCode, bool) {
	text, ok := Normalize(raw)
	if !ok {
		return model.DecodedCode{}, false
	}

	if !ValidChecksum(text) {
		log.Warn().
			Str("code", text).
			Str("method", string(method)).
			Msg("checksum mismatch, accepting code for manual correction")
	}

	result := model.DecodedCode{
		RawText:  text,
		CodeType: model.CodeTypeBarcode,
		Method:   method,
	}
	if payload := p.ParsePayload(text); payload != nil {
		result.CodeType = model.CodeTypeQR
		result.StructuredPayload = payload
	}
	return result, true
}
