package transform

import (
	"testing"

	"go.viam.com/test"
)

func TestBrownConradyInverse(t *testing.T) {
	bc, err := NewBrownConrady([]float64{-0.25, 0.08, -0.01, 0.0015, -0.0008})
	test.That(t, err, test.ShouldBeNil)
	inv := bc.Inverse()
	test.That(t, inv.ModelType(), test.ShouldEqual, InverseBrownConradyDistortionType)
	test.That(t, inv.Parameters(), test.ShouldResemble, bc.Parameters())

	for _, p := range [][2]float64{{0, 0}, {0.1, -0.05}, {-0.4, 0.3}, {0.5, 0.5}} {
		xd, yd := bc.Transform(p[0], p[1])
		xu, yu := inv.Transform(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, p[0], 1e-9)
		test.That(t, yu, test.ShouldAlmostEqual, p[1], 1e-9)
	}

	back := inv.(InvertibleDistorter).Inverse()
	test.That(t, back, test.ShouldResemble, bc)
}

func TestNewBrownConradyFromOpenCV(t *testing.T) {
	bc, err := NewBrownConradyFromOpenCV([]float64{1, 2, 3, 4, 5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *bc, test.ShouldResemble, BrownConrady{RadialK1: 1, RadialK2: 2, TangentialP1: 3, TangentialP2: 4, RadialK3: 5})

	bc, err = NewBrownConradyFromOpenCV([]float64{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.RadialK3, test.ShouldEqual, 0)

	bc, err = NewBrownConradyFromOpenCV(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.IsZero(), test.ShouldBeTrue)
	x, y := bc.Transform(0.3, -0.2)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, -0.2)

	_, err = NewBrownConradyFromOpenCV([]float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "got 3")
}

func TestNewDistorter(t *testing.T) {
	d, err := NewDistorter(BrownConradyDistortionType, []float64{0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	test.That(t, d.CheckValid(), test.ShouldBeNil)

	d, err = NewDistorter(InverseBrownConradyDistortionType, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Parameters(), test.ShouldResemble, []float64{0, 0, 0, 0, 0})

	_, err = NewDistorter("kannala_brandt", nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewBrownConrady(make([]float64, 6))
	test.That(t, err, test.ShouldNotBeNil)

	var nilBC *BrownConrady
	test.That(t, nilBC.CheckValid(), test.ShouldNotBeNil)
	test.That(t, nilBC.Parameters(), test.ShouldBeEmpty)
}
