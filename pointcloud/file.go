package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file. Only .pcd and
// .ply containers are supported; anything else is a configuration error.
func NewFromFile(fn string, logger golog.Logger) (pc PointCloud, err error) {
	switch filepath.Ext(fn) {
	case ".pcd", ".ply":
	default:
		return nil, errors.Errorf("do not know how to read file %q, supported formats are .pcd and .ply", fn)
	}

	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	switch filepath.Ext(fn) {
	case ".pcd":
		logger.Debugf("reading pcd file %q", fn)
		return ReadPCD(f)
	default:
		logger.Debugf("reading ply file %q", fn)
		return ReadPLY(f)
	}
}

// ReadPLY reads a .ply file and returns a PointCloud. Intensity properties
// are carried if present.
func ReadPLY(in io.Reader) (PointCloud, error) {
	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	pc := NewWithPrealloc(len(vertices))
	for i, v := range vertices {
		x, xok := plyFloat(v["x"])
		y, yok := plyFloat(v["y"])
		z, zok := plyFloat(v["z"])
		if !xok || !yok || !zok {
			return nil, errors.Errorf("ply vertex %d missing x/y/z properties", i)
		}
		var d Data
		if intensity, ok := plyFloat(v["intensity"]); ok {
			d = NewIntensityData(intensity)
		} else {
			d = NewBasicData()
		}
		if err := pc.Set(r3.Vector{X: x, Y: y, Z: z}, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func plyFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		return 0, false
	}
}

// WriteToPCDFile writes a cloud out to a pcd file.
func WriteToPCDFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	f, err := os.Create(filepath.Clean(fn))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

// ToPCD writes a cloud to the given writer in pcd format.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	if cloud.MetaData().HasIntensity {
		_, err = fmt.Fprintf(out, "FIELDS x y z intensity\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F F\n"+
			"COUNT 1 1 1 1\n")
	} else {
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	var iterErr error
	hasIntensity := cloud.MetaData().HasIntensity
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var err error
		if hasIntensity {
			intensity := 0.
			if d != nil && d.HasIntensity() {
				intensity = d.Intensity()
			}
			switch pcdtype {
			case PCDBinary:
				buf := make([]byte, 16)
				binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
				binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
				binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
				binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(float32(intensity)))
				_, err = out.Write(buf)
			case PCDAscii:
				_, err = fmt.Fprintf(out, "%f %f %f %f\n", pos.X, pos.Y, pos.Z, intensity)
			case PCDCompressed:
				err = errors.New("compressed PCD not yet implemented")
			}
		} else {
			switch pcdtype {
			case PCDBinary:
				buf := make([]byte, 12)
				binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
				binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
				binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
				_, err = out.Write(buf)
			case PCDAscii:
				_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
			case PCDCompressed:
				err = errors.New("compressed PCD not yet implemented")
			}
		}
		iterErr = err
		return err == nil
	})
	return iterErr
}

type pcdFieldType int

const (
	pcdPointOnly      pcdFieldType = 3
	pcdPointIntensity pcdFieldType = 4
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

// cap on the POINTS declaration; anything bigger is a corrupt or hostile header
const maxPCDPoints = 1 << 32

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z intensity":
			header.fields = pcdPointIntensity
		default:
			return errors.Errorf("unsupported pcd fields %q", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE", "COUNT":
		if len(tokens) != int(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid WIDTH field %s: %v", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid HEIGHT field %s: %v", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid POINTS field %s: %v", value, err)
		}
		if points > maxPCDPoints {
			return errors.Errorf("POINTS field %d exceeds the maximum of %d", points, uint64(maxPCDPoints))
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %q", value)
		}
	}

	return nil
}

// ReadPCD reads a pcd file into a PointCloud.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	var line string
	var err error
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, errors.Errorf("error reading header line %d: %v", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, len(tokens))
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Errorf("invalid point %d field %s: %v", i, token, err)
			}
		}
		if err := setPCDPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	for j, size := range header.size {
		if size != 4 {
			return nil, errors.Errorf("unsupported SIZE %d for binary pcd field %d, only 4-byte floats are supported", size, j)
		}
	}
	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, 4)
	for i := 0; i < int(header.points); i++ {
		pointBuf := make([]float64, int(header.fields))
		for j := 0; j < int(header.fields); j++ {
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, err
			}
			pointBuf[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
		if err := setPCDPoint(pc, pointBuf, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func setPCDPoint(pc PointCloud, slice []float64, header pcdHeader) error {
	pos := r3.Vector{X: slice[0], Y: slice[1], Z: slice[2]}
	switch header.fields {
	case pcdPointOnly:
		return pc.Set(pos, NewBasicData())
	case pcdPointIntensity:
		return pc.Set(pos, NewIntensityData(slice[3]))
	default:
		return errors.Errorf("unsupported pcd field type %d", header.fields)
	}
}
