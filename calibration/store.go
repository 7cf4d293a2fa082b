package calibration

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/labviros/is-aruco-localization/logging"
)

type storeEntry struct {
	calib *CameraCalibration
	err   error
}

// Store serves calibrations by camera id. It is filled once and only read afterwards, so it is
// safe for concurrent use.
type Store struct {
	entries map[string]storeEntry
}

// NewStore builds a store from already validated calibrations.
func NewStore(calibs ...*CameraCalibration) *Store {
	s := &Store{entries: make(map[string]storeEntry, len(calibs))}
	for _, c := range calibs {
		s.entries[c.CameraID] = storeEntry{calib: c}
	}
	return s
}

// LoadOptions control how calibration files are interpreted.
type LoadOptions struct {
	// WorldFrame is the frame extrinsics must point into. Defaults to DefaultWorldFrame.
	WorldFrame  string
	MarkerSizes MarkerSizes
}

// LoadStore reads calibrations from path, which is a single JSON file or a directory of them.
// Unreadable or unparsable files are logged and skipped. Calibrations that parse but fail
// validation are kept as errors and reported by Load for their camera only.
func LoadStore(path string, opts LoadOptions, logger logging.Logger) (*Store, error) {
	if opts.WorldFrame == "" {
		opts.WorldFrame = DefaultWorldFrame
	}
	if err := opts.MarkerSizes.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid marker sizes")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read calibration path")
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	}

	s := &Store{entries: map[string]storeEntry{}}
	for _, file := range files {
		//nolint:gosec
		data, err := os.ReadFile(file)
		if err != nil {
			logger.Warnw("skipping unreadable calibration file", "file", file, "error", err)
			continue
		}
		parsed, err := parseCalibrations(data)
		if err != nil {
			logger.Warnw("skipping unparsable calibration file", "file", file, "error", err)
			continue
		}
		for i := range parsed {
			id := string(parsed[i].ID)
			if _, ok := s.entries[id]; ok {
				logger.Warnw("duplicate calibration, keeping the first one", "camera", id, "file", file)
				continue
			}
			calib, err := parsed[i].toCalibration(opts.WorldFrame, opts.MarkerSizes)
			if err != nil {
				logger.Errorw("invalid calibration", "camera", id, "file", file, "error", err)
				s.entries[id] = storeEntry{err: err}
				continue
			}
			logger.Debugw("loaded calibration", "camera", id, "file", file)
			s.entries[id] = storeEntry{calib: calib}
		}
	}
	return s, nil
}

// Load returns the calibration of a camera, or a *ConfigError when it is missing or invalid.
func (s *Store) Load(cameraID string) (*CameraCalibration, error) {
	entry, ok := s.entries[cameraID]
	if !ok {
		return nil, NewConfigError(cameraID, ErrUnknownCamera)
	}
	if entry.err != nil {
		return nil, NewConfigError(cameraID, entry.err)
	}
	return entry.calib, nil
}

// CameraIDs returns every camera with an entry, valid or not, in sorted order.
func (s *Store) CameraIDs() []string {
	ids := lo.Keys(s.entries)
	sort.Strings(ids)
	return ids
}
