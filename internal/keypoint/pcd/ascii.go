// Package pcd reads the ASCII point-cloud files used by KeypointNet.
//
// A file carries a free-form header terminated by the line "DATA ascii".
// Every following line is one point: X, Y, Z first and a packed RGB
// integer last, whitespace separated.
package pcd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HeaderTerminator marks the end of the header section.
const HeaderTerminator = "DATA ascii"

var (
	// ErrMissingHeader is returned when no "DATA ascii" line is present.
	ErrMissingHeader = errors.New("pcd: missing DATA ascii header")
	// ErrMalformedLine is returned for a point line that cannot be parsed.
	ErrMalformedLine = errors.New("pcd: malformed point line")
)

// Cloud is a parsed point file. Coord and Color are index-aligned.
type Cloud struct {
	Coord [][3]float32
	Color [][3]uint8
}

// Len returns the number of points.
func (c *Cloud) Len() int { return len(c.Coord) }

// UnpackColor splits a packed 0xRRGGBB integer into channels.
func UnpackColor(v int64) [3]uint8 {
	return [3]uint8{
		uint8((v >> 16) & 255),
		uint8((v >> 8) & 255),
		uint8(v & 255),
	}
}

// Parse reads a point file from data.
func Parse(data []byte) (*Cloud, error) {
	return Read(bytes.NewReader(data))
}

// Read reads a point file from r. Blank lines after the header are
// skipped; any other line must carry at least four fields.
func Read(r io.Reader) (*Cloud, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	inData := false
	lineNo := 0
	cloud := &Cloud{}
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if !inData {
			if strings.TrimSpace(line) == HeaderTerminator {
				inData = true
			}
			continue
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformedLine, lineNo, len(fields))
		}

		var xyz [3]float32
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i], 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d field %d: %v", ErrMalformedLine, lineNo, i, err)
			}
			xyz[i] = float32(v)
		}

		packed, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d color: %v", ErrMalformedLine, lineNo, err)
		}

		cloud.Coord = append(cloud.Coord, xyz)
		cloud.Color = append(cloud.Color, UnpackColor(packed))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pcd: read: %w", err)
	}
	if !inData {
		return nil, ErrMissingHeader
	}
	return cloud, nil
}

// Select returns a new cloud holding the points at idx, in order.
func (c *Cloud) Select(idx []int) *Cloud {
	out := &Cloud{
		Coord: make([][3]float32, len(idx)),
		Color: make([][3]uint8, len(idx)),
	}
	for i, j := range idx {
		out.Coord[i] = c.Coord[j]
		out.Color[i] = c.Color[j]
	}
	return out
}
