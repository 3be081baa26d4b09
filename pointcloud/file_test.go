package pointcloud

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestPCDRoundTrip(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(-0.5, 1.25, 2), NewIntensityData(17)), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(3, -4, 0.75), NewIntensityData(3)), test.ShouldBeNil)

	for _, kind := range []PCDType{PCDAscii, PCDBinary} {
		var buf bytes.Buffer
		test.That(t, ToPCD(pc, &buf, kind), test.ShouldBeNil)

		back, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.Size(), test.ShouldEqual, pc.Size())
		test.That(t, back.MetaData().HasIntensity, test.ShouldBeTrue)

		d, ok := back.At(3, -4, 0.75)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d.Intensity(), test.ShouldEqual, 3)
	}
}

func TestReadPCDRejectsBadHeader(t *testing.T) {
	_, err := ReadPCD(bytes.NewBufferString("VERSION .7\nFIELDS x y rgb\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported pcd fields")
}

func TestReadPCDRejectsWideBinaryFields(t *testing.T) {
	header := "VERSION .7\n" +
		"FIELDS x y z\n" +
		"SIZE 8 8 8\n" +
		"TYPE F F F\n" +
		"COUNT 1 1 1\n" +
		"WIDTH 1\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 1\nDATA binary\n"
	payload := make([]byte, 24)
	_, err := ReadPCD(bytes.NewBuffer(append([]byte(header), payload...)))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "only 4-byte floats")
}

func TestReadPCDRejectsOversizedPointCount(t *testing.T) {
	header := "VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n" +
		"WIDTH 9999999999999\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS 9999999999999\nDATA binary\n"
	_, err := ReadPCD(bytes.NewBufferString(header))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exceeds the maximum")
}

func TestNewFromFileUnsupported(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := NewFromFile("map.xyz", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to read")
}

func TestNewFromFilePCD(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pc := New()
	test.That(t, pc.Set(NewVector(1, 2, 3), NewIntensityData(9)), test.ShouldBeNil)

	fn := filepath.Join(t.TempDir(), "map.pcd")
	test.That(t, WriteToPCDFile(pc, fn, PCDBinary), test.ShouldBeNil)

	back, err := NewFromFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Size(), test.ShouldEqual, 1)
}
