package utils

import (
	gojson "git.gammaspectra.live/P2Pool/go-json"
)

var JsonEncodeOptions = []gojson.EncodeOptionFunc{gojson.DisableHTMLEscape(), gojson.DisableNormalizeUTF8()}

func MarshalJSON(v any) ([]byte, error) {
	return gojson.MarshalWithOption(v, JsonEncodeOptions...)
}

func UnmarshalJSON(data []byte, v any) error {
	return gojson.UnmarshalWithOption(data, v)
}
