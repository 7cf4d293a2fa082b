package aruco

import (
	"math/bits"
	"testing"

	"go.viam.com/test"
)

func TestDictionaryNames(t *testing.T) {
	names := DictionaryNames()
	test.That(t, names, test.ShouldResemble, []string{
		"4X4_100", "4X4_50", "5X5_100", "5X5_50", "6X6_250", "6X6_50", "ARUCO_ORIGINAL",
	})
	_, err := DictionaryByName("7X7_1000")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown marker dictionary")
}

func TestArucoOriginal(t *testing.T) {
	dict, err := DictionaryByName(DefaultDictionaryName)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dict.Name(), test.ShouldEqual, DefaultDictionaryName)
	test.That(t, dict.Len(), test.ShouldEqual, 1024)
	test.That(t, dict.MarkerSize(), test.ShouldEqual, 5)
	test.That(t, dict.MaxCorrectionBits(), test.ShouldEqual, 0)

	again, err := DictionaryByName(DefaultDictionaryName)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, dict)

	// id 7 = 00 00 00 01 11 picks words 0, 0, 0, 1, 3
	code, err := dict.Code(7)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, code, test.ShouldEqual, uint64(0x10<<20|0x10<<15|0x10<<10|0x17<<5|0x0e))

	grid, err := dict.Bits(7)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid[4], test.ShouldResemble, []bool{false, true, true, true, false})

	for k := 0; k < 4; k++ {
		observed := code
		for i := 0; i < k; i++ {
			observed = rotateCW(observed, 5)
		}
		match, ok := dict.Identify(observed, 0)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, match, test.ShouldResemble, Match{ID: 7, Rotation: k, Distance: 0})
	}

	_, ok := dict.Identify(code^1, 0)
	test.That(t, ok, test.ShouldBeFalse)

	_, err = dict.Code(1024)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = dict.Code(-1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRotateCW(t *testing.T) {
	// a single white cell in the top-left corner ends up top-right
	code := withBit(0, 4, 0, 0)
	rotated := rotateCW(code, 4)
	test.That(t, bitAt(rotated, 4, 0, 3), test.ShouldBeTrue)
	test.That(t, bits.OnesCount64(rotated), test.ShouldEqual, 1)

	full := code
	for i := 0; i < 4; i++ {
		full = rotateCW(full, 4)
	}
	test.That(t, full, test.ShouldEqual, code)
}

func TestGeneratedDictionaries(t *testing.T) {
	for _, tc := range []struct {
		name  string
		size  int
		count int
	}{
		{"4X4_50", 4, 50},
		{"4X4_100", 4, 100},
		{"5X5_50", 5, 50},
		{"5X5_100", 5, 100},
		{"6X6_50", 6, 50},
		{"6X6_250", 6, 250},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dict, err := DictionaryByName(tc.name)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, dict.Len(), test.ShouldEqual, tc.count)
			test.That(t, dict.MarkerSize(), test.ShouldEqual, tc.size)
			test.That(t, dict.MaxCorrectionBits(), test.ShouldBeGreaterThanOrEqualTo, 1)

			minDistance := 2*dict.MaxCorrectionBits() + 1
			for i, rots := range dict.rotations {
				for k := 1; k < 4; k++ {
					test.That(t, bits.OnesCount64(rots[0]^rots[k]), test.ShouldBeGreaterThanOrEqualTo, minDistance)
				}
				for j := i + 1; j < len(dict.rotations); j++ {
					for k := 0; k < 4; k++ {
						d := bits.OnesCount64(dict.rotations[j][0] ^ rots[k])
						test.That(t, d, test.ShouldBeGreaterThanOrEqualTo, minDistance)
					}
				}
			}

			// the table does not depend on when it is built
			codes, _ := generateCodes(generatedDictionaries[tc.name])
			for id, c := range codes {
				test.That(t, dict.rotations[id][0], test.ShouldEqual, c)
			}

			// up to MaxCorrectionBits flipped bits still decode
			n := dict.MarkerSize()
			for _, id := range []int{0, tc.count / 2, tc.count - 1} {
				code, err := dict.Code(id)
				test.That(t, err, test.ShouldBeNil)
				noisy := code
				for b := 0; b < dict.MaxCorrectionBits(); b++ {
					noisy ^= 1 << (n*n - 1 - 3*b)
				}
				match, ok := dict.Identify(rotateCW(noisy, n), dict.MaxCorrectionBits())
				test.That(t, ok, test.ShouldBeTrue)
				test.That(t, match.ID, test.ShouldEqual, id)
				test.That(t, match.Rotation, test.ShouldEqual, 1)
				test.That(t, match.Distance, test.ShouldEqual, dict.MaxCorrectionBits())
			}
		})
	}
}

func TestRender(t *testing.T) {
	dict, err := DictionaryByName("4X4_50")
	test.That(t, err, test.ShouldBeNil)

	img, err := dict.Render(3, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 30)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 30)

	grid, err := dict.Bits(3)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 30; i++ {
		test.That(t, img.GrayAt(i, 2).Y, test.ShouldEqual, 0)
		test.That(t, img.GrayAt(2, i).Y, test.ShouldEqual, 0)
		test.That(t, img.GrayAt(i, 27).Y, test.ShouldEqual, 0)
		test.That(t, img.GrayAt(27, i).Y, test.ShouldEqual, 0)
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := uint8(0)
			if grid[r][c] {
				want = 255
			}
			test.That(t, img.GrayAt((c+1)*5+2, (r+1)*5+2).Y, test.ShouldEqual, want)
		}
	}

	_, err = dict.Render(3, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = dict.Render(50, 5)
	test.That(t, err, test.ShouldNotBeNil)
}
