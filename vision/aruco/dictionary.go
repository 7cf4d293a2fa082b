// Package aruco detects square fiducial markers and decodes their identity against a fixed
// dictionary of bit patterns.
package aruco

import (
	"math/bits"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DefaultDictionaryName is the dictionary used when none is configured.
const DefaultDictionaryName = "ARUCO_ORIGINAL"

// Dictionary is an immutable table of marker codes. Code bits are the marker's inner cells in
// row-major order, most significant bit first; a set bit is a white cell.
type Dictionary struct {
	name          string
	markerSize    int
	maxCorrection int
	// rotations[id][k] is the code of marker id turned k quarter turns clockwise.
	rotations [][4]uint64
}

// Name is the dictionary name.
func (d *Dictionary) Name() string {
	return d.name
}

// MarkerSize is the number of inner cells per side.
func (d *Dictionary) MarkerSize() int {
	return d.markerSize
}

// Len is the number of markers.
func (d *Dictionary) Len() int {
	return len(d.rotations)
}

// MaxCorrectionBits is the number of flipped bits that can still be decoded unambiguously.
func (d *Dictionary) MaxCorrectionBits() int {
	return d.maxCorrection
}

// Code returns the upright code of a marker.
func (d *Dictionary) Code(id int) (uint64, error) {
	if id < 0 || id >= len(d.rotations) {
		return 0, errors.Errorf("marker id %d out of range for %s (%d markers)", id, d.name, len(d.rotations))
	}
	return d.rotations[id][0], nil
}

// Bits returns the upright cell grid of a marker, true for white.
func (d *Dictionary) Bits(id int) ([][]bool, error) {
	code, err := d.Code(id)
	if err != nil {
		return nil, err
	}
	n := d.markerSize
	grid := make([][]bool, n)
	for r := 0; r < n; r++ {
		grid[r] = make([]bool, n)
		for c := 0; c < n; c++ {
			grid[r][c] = bitAt(code, n, r, c)
		}
	}
	return grid, nil
}

// Match is the outcome of looking up an observed code.
type Match struct {
	ID       int
	Rotation int
	Distance int
}

// Identify finds the marker whose code, under some rotation, is closest to the observed code.
// It fails when the best distance exceeds maxCorrection or when two different markers tie.
func (d *Dictionary) Identify(observed uint64, maxCorrection int) (Match, bool) {
	best := Match{ID: -1, Distance: d.markerSize*d.markerSize + 1}
	tied := false
	for id, rots := range d.rotations {
		for k, code := range rots {
			dist := bits.OnesCount64(code ^ observed)
			switch {
			case dist < best.Distance:
				best = Match{ID: id, Rotation: k, Distance: dist}
				tied = false
			case dist == best.Distance && id != best.ID:
				tied = true
			}
		}
	}
	if best.ID < 0 || best.Distance > maxCorrection || tied {
		return best, false
	}
	return best, true
}

func bitAt(code uint64, n, r, c int) bool {
	return code>>(n*n-1-(r*n+c))&1 == 1
}

func withBit(code uint64, n, r, c int) uint64 {
	return code | 1<<(n*n-1-(r*n+c))
}

// rotateCW turns a code a quarter turn clockwise.
func rotateCW(code uint64, n int) uint64 {
	var out uint64
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			if bitAt(code, n, n-1-c, r) {
				out = withBit(out, n, r, c)
			}
		}
	}
	return out
}

func allRotations(code uint64, n int) [4]uint64 {
	var rots [4]uint64
	rots[0] = code
	for k := 1; k < 4; k++ {
		rots[k] = rotateCW(rots[k-1], n)
	}
	return rots
}

func newDictionary(name string, n, maxCorrection int, codes []uint64) *Dictionary {
	d := &Dictionary{name: name, markerSize: n, maxCorrection: maxCorrection}
	d.rotations = make([][4]uint64, len(codes))
	for i, c := range codes {
		d.rotations[i] = allRotations(c, n)
	}
	return d
}

// arucoOriginalCodes builds the 1024 codes of the original ArUco library. Each of the 5 rows
// carries two bits of the id through a fixed 5-bit word.
func arucoOriginalCodes() []uint64 {
	words := [4]uint64{0x10, 0x17, 0x09, 0x0e}
	codes := make([]uint64, 1024)
	for id := range codes {
		var code uint64
		for row := 0; row < 5; row++ {
			code = code<<5 | words[(id>>(2*(4-row)))&3]
		}
		codes[id] = code
	}
	return codes
}

type dictionaryParams struct {
	markerSize  int
	count       int
	minDistance int
	seed        uint64
}

var generatedDictionaries = map[string]dictionaryParams{
	"4X4_50":  {markerSize: 4, count: 50, minDistance: 4, seed: 0x4450},
	"4X4_100": {markerSize: 4, count: 100, minDistance: 3, seed: 0x44100},
	"5X5_50":  {markerSize: 5, count: 50, minDistance: 7, seed: 0x5550},
	"5X5_100": {markerSize: 5, count: 100, minDistance: 6, seed: 0x55100},
	"6X6_50":  {markerSize: 6, count: 50, minDistance: 11, seed: 0x6650},
	"6X6_250": {markerSize: 6, count: 250, minDistance: 9, seed: 0x66250},
}

// maxUnproductive is how many rejected candidates in a row lower the required distance by one.
const maxUnproductive = 5000

// generateCodes greedily draws random codes and keeps those at least minDistance away from every
// kept code under every rotation, and from their own other rotations. The generator is seeded,
// so the same params always yield the same table. Returns the codes and the distance reached.
func generateCodes(params dictionaryParams) ([]uint64, int) {
	n := params.markerSize
	rng := rand.New(rand.NewPCG(params.seed, params.seed^0x9e3779b97f4a7c15))
	mask := uint64(1)<<(n*n) - 1
	tau := params.minDistance

	codes := make([]uint64, 0, params.count)
	kept := make([][4]uint64, 0, params.count)
	unproductive := 0
	for len(codes) < params.count {
		candidate := rng.Uint64() & mask
		rots := allRotations(candidate, n)
		ok := true
		for k := 1; k < 4 && ok; k++ {
			ok = bits.OnesCount64(candidate^rots[k]) >= tau
		}
		for i := 0; i < len(kept) && ok; i++ {
			for k := 0; k < 4; k++ {
				if bits.OnesCount64(kept[i][0]^rots[k]) < tau {
					ok = false
					break
				}
			}
		}
		if !ok {
			unproductive++
			if unproductive >= maxUnproductive && tau > 1 {
				tau--
				unproductive = 0
			}
			continue
		}
		unproductive = 0
		codes = append(codes, candidate)
		kept = append(kept, rots)
	}
	return codes, tau
}

var (
	dictionaryMu    sync.Mutex
	dictionaryCache = map[string]*Dictionary{}
)

// DictionaryNames lists the available dictionaries.
func DictionaryNames() []string {
	names := append(lo.Keys(generatedDictionaries), DefaultDictionaryName)
	sort.Strings(names)
	return names
}

// DictionaryByName returns a dictionary, building it on first use. The returned value is shared
// and must not be modified.
func DictionaryByName(name string) (*Dictionary, error) {
	dictionaryMu.Lock()
	defer dictionaryMu.Unlock()
	if d, ok := dictionaryCache[name]; ok {
		return d, nil
	}

	var d *Dictionary
	if name == DefaultDictionaryName {
		d = newDictionary(name, 5, 0, arucoOriginalCodes())
	} else {
		params, ok := generatedDictionaries[name]
		if !ok {
			return nil, errors.Errorf("unknown marker dictionary %q (have %v)", name, DictionaryNames())
		}
		codes, tau := generateCodes(params)
		d = newDictionary(name, params.markerSize, (tau-1)/2, codes)
	}
	dictionaryCache[name] = d
	return d, nil
}
