package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	maps.Copy(result, md)
	return result
}

// ToWatermill copies metadata into a Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	maps.Copy(wm, md)
	return wm
}

// Headers converts Watermill metadata into the byte-valued header map handed
// to the router. Keys for which skip reports true are left out.
func Headers(md message.Metadata, skip func(key string) bool) map[string][]byte {
	headers := make(map[string][]byte, len(md))
	for k, v := range md {
		if skip != nil && skip(k) {
			continue
		}
		headers[k] = []byte(v)
	}
	return headers
}
