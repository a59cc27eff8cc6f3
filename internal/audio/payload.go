package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const defaultMIME = "audio/wav"

var errEmptyPayload = errors.New("empty audio payload")

// DecodePayload converts the backend's audio field into a blob. Data URLs keep
// their MIME type; bare base64 is treated as WAV.
func DecodePayload(payload string) (*Blob, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errEmptyPayload
	}
	mime := defaultMIME
	data := payload
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		meta := strings.TrimPrefix(header, "data:")
		if t, _, _ := strings.Cut(meta, ";"); t != "" {
			mime = t
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("data url is not base64 encoded")
		}
		data = body
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, errEmptyPayload
	}
	return &Blob{Data: raw, MIME: mime}, nil
}
