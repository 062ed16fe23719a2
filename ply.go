package splat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Binary little-endian PLY codec for point clouds, field-compatible with the
// layout most Gaussian-splatting tools exchange: positions, log scales, raw
// opacity, quaternion, f_dc_* and channel-major f_rest_* coefficients.
// The activated PointCloud values are converted to those encodings on write
// and back on read.

// PLY codec errors.
var (
	// ErrPLYMalformed is returned when a header or payload cannot be parsed.
	ErrPLYMalformed = errors.New("splat: malformed ply")

	// ErrPLYUnsupported is returned for valid PLY files the codec does not
	// handle (ascii encoding, non-float properties).
	ErrPLYUnsupported = errors.New("splat: unsupported ply")
)

// EncodePLY writes the point cloud as a binary little-endian PLY file.
func EncodePLY(w io.Writer, pc *PointCloud) error {
	n := pc.NumPoints()
	numCoeffs := int(SHCoeffsForDegree(pc.SHDegree))
	restPerChannel := numCoeffs - 1

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\n")
	fmt.Fprintf(bw, "comment Vertical axis: y\n")
	fmt.Fprintf(bw, "element vertex %d\n", n)
	names := plyPropertyNames(restPerChannel)
	for _, name := range names {
		fmt.Fprintf(bw, "property float %s\n", name)
	}
	fmt.Fprintf(bw, "end_header\n")

	row := make([]float32, len(names))
	buf := make([]byte, len(names)*4)
	for i := range n {
		k := 0
		row[k+0] = pc.Positions[i*3]
		row[k+1] = pc.Positions[i*3+1]
		row[k+2] = pc.Positions[i*3+2]
		k += 3
		for j := range 3 {
			row[k+j] = logp(pc.Scales[i*3+j])
		}
		k += 3
		row[k] = InverseSigmoid(clamp32(pc.Opacities[i], 1e-6, 1.0-1e-6))
		k++
		copy(row[k:k+4], pc.Rotations[i*4:i*4+4])
		k += 4
		// DC, then rest channel-major.
		for ch := range 3 {
			row[k+ch] = pc.SHCoeffs[(i*numCoeffs)*3+ch]
		}
		k += 3
		for ch := range 3 {
			for c := 1; c < numCoeffs; c++ {
				row[k] = pc.SHCoeffs[(i*numCoeffs+c)*3+ch]
				k++
			}
		}
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodePLY reads a binary little-endian PLY point cloud written by EncodePLY
// or by compatible exporters. Unknown float properties are skipped.
func DecodePLY(r io.Reader) (*PointCloud, error) {
	br := bufio.NewReader(r)

	count, props, err := parsePLYHeader(br)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(props))
	for i, p := range props {
		index[p] = i
	}
	for _, req := range []string{"x", "y", "z"} {
		if _, ok := index[req]; !ok {
			return nil, fmt.Errorf("%w: missing property %q", ErrPLYMalformed, req)
		}
	}
	totalRest := 0
	for {
		if _, ok := index[fmt.Sprintf("f_rest_%d", totalRest)]; !ok {
			break
		}
		totalRest++
	}
	restPerChannel := totalRest / 3
	// Round down to a full band set.
	numCoeffs := 1
	for _, c := range []int{16, 9, 4} {
		if restPerChannel >= c-1 {
			numCoeffs = c
			break
		}
	}
	degree := SHDegreeFromCoeffs(uint32(numCoeffs))

	pc := &PointCloud{
		Positions: make([]float32, count*3),
		Scales:    make([]float32, count*3),
		Opacities: make([]float32, count),
		Rotations: make([]float32, count*4),
		SHCoeffs:  make([]float32, count*numCoeffs*3),
		SHDegree:  degree,
	}

	row := make([]byte, len(props)*4)
	get := func(name string, fallback float32) float32 {
		i, ok := index[name]
		if !ok {
			return fallback
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(row[i*4:]))
	}

	for i := range count {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("%w: truncated payload: %w", ErrPLYMalformed, err)
		}
		pc.Positions[i*3+0] = get("x", 0)
		pc.Positions[i*3+1] = get("y", 0)
		pc.Positions[i*3+2] = get("z", 0)
		for j, name := range []string{"scale_0", "scale_1", "scale_2"} {
			pc.Scales[i*3+j] = expp(get(name, -5))
		}
		pc.Opacities[i] = Sigmoid(get("opacity", InverseSigmoid(0.5)))
		pc.Rotations[i*4+0] = get("rot_0", 1)
		pc.Rotations[i*4+1] = get("rot_1", 0)
		pc.Rotations[i*4+2] = get("rot_2", 0)
		pc.Rotations[i*4+3] = get("rot_3", 0)
		for ch, name := range []string{"f_dc_0", "f_dc_1", "f_dc_2"} {
			pc.SHCoeffs[(i*numCoeffs)*3+ch] = get(name, 0)
		}
		// The file's channel stride is its own rest count, which may
		// exceed the rounded-down band set kept here.
		for ch := range 3 {
			for c := 1; c < numCoeffs; c++ {
				name := fmt.Sprintf("f_rest_%d", ch*restPerChannel+(c-1))
				pc.SHCoeffs[(i*numCoeffs+c)*3+ch] = get(name, 0)
			}
		}
	}
	return pc, nil
}

func parsePLYHeader(br *bufio.Reader) (count int, props []string, err error) {
	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return 0, nil, fmt.Errorf("%w: missing magic", ErrPLYMalformed)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, nil, fmt.Errorf("%w: truncated header", ErrPLYMalformed)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 || fields[1] != "binary_little_endian" {
				return 0, nil, fmt.Errorf("%w: format %q", ErrPLYUnsupported, strings.TrimSpace(line))
			}
		case "comment":
		case "element":
			if len(fields) == 3 && fields[1] == "vertex" {
				count, err = strconv.Atoi(fields[2])
				if err != nil {
					return 0, nil, fmt.Errorf("%w: vertex count: %w", ErrPLYMalformed, err)
				}
			} else {
				return 0, nil, fmt.Errorf("%w: element %q", ErrPLYUnsupported, strings.TrimSpace(line))
			}
		case "property":
			if len(fields) != 3 || fields[1] != "float" {
				return 0, nil, fmt.Errorf("%w: property %q", ErrPLYUnsupported, strings.TrimSpace(line))
			}
			props = append(props, fields[2])
		case "end_header":
			return count, props, nil
		}
	}
}

func plyPropertyNames(restPerChannel int) []string {
	names := []string{
		"x", "y", "z",
		"scale_0", "scale_1", "scale_2",
		"opacity",
		"rot_0", "rot_1", "rot_2", "rot_3",
		"f_dc_0", "f_dc_1", "f_dc_2",
	}
	for i := range restPerChannel * 3 {
		names = append(names, fmt.Sprintf("f_rest_%d", i))
	}
	return names
}

func logp(v float32) float32 { return float32(math.Log(float64(max(v, 1e-20)))) }
func expp(v float32) float32 { return float32(math.Exp(float64(v))) }
