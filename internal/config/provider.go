package config

import "errors"

// mapProvider is a minimal koanf provider serving the built-in defaults.
type mapProvider map[string]any

var errReadBytesNotSupported = errors.New("config: ReadBytes not supported by map provider")

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
