package cache

import (
	"github.com/goccy/go-json"
)

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decode(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}
