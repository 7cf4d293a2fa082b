package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/labviros/is-aruco-localization/logging"
)

// Format is the syntax of a config file.
type Format string

// Supported config syntaxes.
const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the syntax by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.Errorf("config %q must be .json or .toml", path)
	}
}

// Read reads and validates the config file at filePath.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	format, err := FormatFromPath(filePath)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, format, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from.
func FromReader(originalPath string, format Format, r io.Reader, logger logging.Logger) (*Config, error) {
	raw := map[string]interface{}{}
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from json")
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from toml")
		}
	default:
		return nil, errors.Errorf("unknown config format %q", format)
	}

	cfg := Default()
	cfg.ConfigFilePath = originalPath
	if err := decodeInto(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process config")
	}
	if cfg.CameraCalibrationPath != "" && !filepath.IsAbs(cfg.CameraCalibrationPath) && originalPath != "" {
		cfg.CameraCalibrationPath = filepath.Join(filepath.Dir(originalPath), cfg.CameraCalibrationPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	logger.Debugw("config read", "path", originalPath, "dictionary", cfg.MarkerDictionary, "cameras", cfg.Cameras)
	return cfg, nil
}

// decodeInto overlays raw onto cfg: keys absent from raw keep their defaults and unknown keys are
// an error.
func decodeInto(raw map[string]interface{}, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
		DecodeHook:       jsonNumberHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// jsonNumberHook unwraps the json.Number values produced by UseNumber.
func jsonNumberHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return n.Int64()
	case reflect.String:
		return n.String(), nil
	default:
		return n.Float64()
	}
}
