package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/tabletop/logging"
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

// NewFromFile returns a pointcloud read in from the given file. Positions are kept in the units of
// the file, meters for clouds captured by depth sensors.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		f, err := os.Open(filepath.Clean(fn))
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the cloud to a .pcd (binary) or .las file depending on the extension.
func WriteToFile(cloud PointCloud, fn string) (err error) {
	switch filepath.Ext(fn) {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".pcd":
		f, err := os.Create(filepath.Clean(fn))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		w := bufio.NewWriter(f)
		if err := ToPCD(cloud, w, PCDBinary); err != nil {
			return err
		}
		return w.Flush()
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}

// pointValueDataTag encodes if the point has value data.
const pointValueDataTag = "rc|pv"

// NewFromLASFile returns a point cloud from reading a LAS file. If any
// lossiness of points could occur from reading it in, it's reported but is not
// an error.
func NewFromLASFile(fn string, logger logging.Logger) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var hasValue bool
	var valueData []byte
	for _, d := range lf.VlrData {
		if d.Description == pointValueDataTag {
			hasValue = true
			valueData = d.BinaryData
			break
		}
	}

	pc := NewWithPrealloc(lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		x, y, z := data.X, data.Y, data.Z
		if x < minPreciseFloat64 || x > maxPreciseFloat64 ||
			y < minPreciseFloat64 || y > maxPreciseFloat64 ||
			z < minPreciseFloat64 || z > maxPreciseFloat64 {
			logger.Warnw("potential floating point lossiness for LAS point",
				"point", data, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
		}

		v := r3.Vector{X: x, Y: y, Z: z}
		dd := NewBasicData()
		if lf.Header.PointFormatID == 2 && p.RgbData() != nil {
			r := uint8(p.RgbData().Red / 256)
			g := uint8(p.RgbData().Green / 256)
			b := uint8(p.RgbData().Blue / 256)
			dd.SetColor(color.NRGBA{r, g, b, 255})
		}

		if hasValue && len(valueData) >= (i*8)+8 {
			dd.SetValue(int(binary.LittleEndian.Uint64(valueData[i*8 : (i*8)+8])))
		}

		if err := pc.Set(v, dd); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var pVals []int
	if meta.HasValue {
		pVals = make([]int, 0, cloud.Size())
	}
	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if meta.HasValue {
			if d != nil && d.HasValue() {
				pVals = append(pVals, d.Value())
			} else {
				pVals = append(pVals, 0)
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		err = lastErr
		return
	}
	if meta.HasValue {
		var buf bytes.Buffer
		for _, v := range pVals {
			valueBytes := make([]byte, 8)
			binary.LittleEndian.PutUint64(valueBytes, uint64(v))
			buf.Write(valueBytes)
		}
		err = lf.AddVLR(lidario.VLR{
			UserID:                  "",
			Description:             pointValueDataTag,
			BinaryData:              buf.Bytes(),
			RecordLengthAfterHeader: buf.Len(),
		})
	}
	return
}

func colorToPCDInt(pt Data) uint32 {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}
	r, g, b := pt.RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func pcdIntToColor(c uint32, withAlpha bool) color.NRGBA {
	a := uint8(255)
	if withAlpha {
		a = uint8(0xFF & (c >> 24))
	}
	return color.NRGBA{uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & c), a}
}

// ToPCD writes out a point cloud to a PCD file of the given type. Colors are written as a packed
// unsigned rgb field.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	if outputType == PCDCompressed {
		return errors.New("compressed PCD not yet implemented")
	}
	hasColor := cloud.MetaData().HasColor
	header := "VERSION .7\n"
	if hasColor {
		header += "FIELDS x y z rgb\n" +
			"SIZE 4 4 4 4\n" +
			"TYPE F F F U\n" +
			"COUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\n" +
			"SIZE 4 4 4\n" +
			"TYPE F F F\n" +
			"COUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(), 1, cloud.Size())
	if outputType == PCDBinary {
		header += "DATA binary\n"
	} else {
		header += "DATA ascii\n"
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}

	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch outputType {
		case PCDBinary:
			buf := make([]byte, 12, 16)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			if hasColor {
				buf = binary.LittleEndian.AppendUint32(buf, colorToPCDInt(d))
			}
			_, err = out.Write(buf)
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
			}
		}
		return err == nil
	})
	return err
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []int
	types  []pcdValType
	count  []int
	width  uint64
	height uint64
	points uint64
	data   PCDType

	xIdx, yIdx, zIdx, colorIdx int
	colorHasAlpha              bool
}

const pcdCommentChar = "#"

func parsePCDHeaderLine(line string, header *pcdHeader) (bool, error) {
	var err error
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)

	switch strings.ToUpper(field) {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return false, errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		header.fields = tokens
	case "SIZE":
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			if header.size[i], err = strconv.Atoi(token); err != nil {
				return false, errors.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		header.types = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			header.types[i] = pcdValType(token)
		}
	case "COUNT":
		header.count = make([]int, len(tokens))
		for i, token := range tokens {
			if header.count[i], err = strconv.Atoi(token); err != nil {
				return false, errors.Wrapf(err, "invalid COUNT field %s", token)
			}
		}
	case "WIDTH":
		if header.width, err = strconv.ParseUint(value, 10, 64); err != nil {
			return false, errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		if header.height, err = strconv.ParseUint(value, 10, 64); err != nil {
			return false, errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return false, errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		if header.points, err = strconv.ParseUint(value, 10, 64); err != nil {
			return false, errors.Wrapf(err, "invalid POINTS field %s", value)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return false, errors.Errorf("unsupported pcd data type %q", value)
		}
		return true, nil
	default:
		return false, errors.Errorf("unknown pcd header line %q", line)
	}
	return false, nil
}

func (header *pcdHeader) validate() error {
	n := len(header.fields)
	if n == 0 {
		return errors.New("pcd header has no FIELDS")
	}
	if header.count == nil {
		header.count = make([]int, n)
		for i := range header.count {
			header.count[i] = 1
		}
	}
	if len(header.size) != n || len(header.types) != n || len(header.count) != n {
		return errors.New("pcd header SIZE, TYPE and COUNT must match FIELDS")
	}
	if header.points == 0 {
		header.points = header.width * header.height
	}
	header.xIdx, header.yIdx, header.zIdx, header.colorIdx = -1, -1, -1, -1
	for i, f := range header.fields {
		switch f {
		case "x":
			header.xIdx = i
		case "y":
			header.yIdx = i
		case "z":
			header.zIdx = i
		case "rgb":
			header.colorIdx = i
		case "rgba":
			header.colorIdx = i
			header.colorHasAlpha = true
		}
	}
	if header.xIdx < 0 || header.yIdx < 0 || header.zIdx < 0 {
		return errors.Errorf("pcd fields %v are missing x, y or z", header.fields)
	}
	return nil
}

// ReadPCD reads a PCD v0.7 cloud in ascii or binary layout. Only the x, y, z and rgb/rgba fields
// are kept; points with non-finite coordinates are skipped.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "error reading pcd header")
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		done, err := parsePCDHeaderLine(line, &header)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	if err := header.validate(); err != nil {
		return nil, err
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

// pcdRecord holds the first element of every field of a point.
type pcdRecord struct {
	values []float64
	raw    []uint32
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	rec := pcdRecord{values: make([]float64, len(header.fields)), raw: make([]uint32, len(header.fields))}
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		tokenIdx := 0
		for j := range header.fields {
			if tokenIdx >= len(tokens) {
				return nil, errors.Errorf("unexpected number of fields in point %d", i)
			}
			token := tokens[tokenIdx]
			tokenIdx += header.count[j]
			if header.types[j] == pcdValFloat {
				f, err := strconv.ParseFloat(token, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
				}
				rec.values[j] = f
				rec.raw[j] = math.Float32bits(float32(f))
				continue
			}
			u, err := strconv.ParseInt(token, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
			rec.values[j] = float64(u)
			rec.raw[j] = uint32(u)
		}
		if err := setPCDRecord(pc, rec, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pointSize := 0
	for j := range header.fields {
		pointSize += header.size[j] * header.count[j]
	}
	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, pointSize)
	rec := pcdRecord{values: make([]float64, len(header.fields)), raw: make([]uint32, len(header.fields))}
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		offset := 0
		for j := range header.fields {
			fieldBytes := buf[offset : offset+header.size[j]]
			offset += header.size[j] * header.count[j]
			rec.values[j], rec.raw[j] = decodePCDValue(fieldBytes, header.types[j])
		}
		if err := setPCDRecord(pc, rec, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func decodePCDValue(b []byte, valType pcdValType) (float64, uint32) {
	switch len(b) {
	case 1:
		if valType == pcdValInt {
			return float64(int8(b[0])), uint32(b[0])
		}
		return float64(b[0]), uint32(b[0])
	case 2:
		u := binary.LittleEndian.Uint16(b)
		if valType == pcdValInt {
			return float64(int16(u)), uint32(u)
		}
		return float64(u), uint32(u)
	case 8:
		u := binary.LittleEndian.Uint64(b)
		switch valType {
		case pcdValFloat:
			return math.Float64frombits(u), uint32(u)
		case pcdValInt:
			return float64(int64(u)), uint32(u)
		default:
			return float64(u), uint32(u)
		}
	default:
		u := binary.LittleEndian.Uint32(b)
		switch valType {
		case pcdValFloat:
			return float64(math.Float32frombits(u)), u
		case pcdValInt:
			return float64(int32(u)), u
		default:
			return float64(u), u
		}
	}
}

func setPCDRecord(pc PointCloud, rec pcdRecord, header pcdHeader) error {
	pos := r3.Vector{X: rec.values[header.xIdx], Y: rec.values[header.yIdx], Z: rec.values[header.zIdx]}
	if math.IsNaN(pos.X+pos.Y+pos.Z) || math.IsInf(pos.X+pos.Y+pos.Z, 0) {
		return nil
	}
	if header.colorIdx < 0 {
		return pc.Set(pos, NewBasicData())
	}
	return pc.Set(pos, NewColoredData(pcdIntToColor(rec.raw[header.colorIdx], header.colorHasAlpha)))
}
