package samples

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"planpolicy/internal/applicability"
	"planpolicy/internal/model"
)

const (
	samplesDir       = "sl_samples"
	samplesExtension = ".samples"

	headerLines   = 4
	maxLineLength = 64 << 20
)

var ErrFormat = errors.New("malformed sample file")

type Decoded struct {
	NumFacts int
	NumOps   int
	Plans    []model.Plan
	Index    *applicability.Index
}

// Samples counts the samples across all plans.
func (d Decoded) Samples() int {
	total := 0
	for _, plan := range d.Plans {
		total += len(plan)
	}
	return total
}

// ResolvePath maps a logical sample name to its file under resourceDir.
func ResolvePath(resourceDir, name string) string {
	return filepath.Join(resourceDir, samplesDir, name+samplesExtension)
}

func ReadFile(path string) (Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Decoded{}, err
	}
	defer f.Close()

	decoded, err := Decode(f)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return decoded, nil
}

// Decode parses a sample stream. Lines 0 and 1 are headers; the field counts
// of lines 2 and 3 fix the fact and operator widths. Every later line is a
// plan boundary ('#') or a data line "h;facts...;ops...", where each op field
// packs the chosen bit in bit 0 and the applicability bit above it.
func Decode(r io.Reader) (Decoded, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var (
		out     Decoded
		pending model.Plan
		lineNo  int
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch lineNo {
		case 0, 1:
		case 2:
			out.NumFacts = fieldCount(line)
		case 3:
			out.NumOps = fieldCount(line)
			out.Index = applicability.NewIndex(out.NumOps)
		default:
			sample, keep, boundary, err := decodeLine(line, out.NumFacts, out.NumOps)
			if err != nil {
				return Decoded{}, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			if boundary {
				if len(pending) > 0 {
					out.Plans = append(out.Plans, pending)
					pending = nil
				}
				break
			}
			if !keep {
				break
			}
			if err := out.Index.Observe(sample.state, sample.mask); err != nil {
				return Decoded{}, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			pending = append(pending, model.Sample{State: sample.state, Indicator: sample.chosen})
		}
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return Decoded{}, err
	}
	if lineNo < headerLines {
		return Decoded{}, fmt.Errorf("%w: %d header lines, want %d", ErrFormat, lineNo, headerLines)
	}
	if len(pending) > 0 {
		out.Plans = append(out.Plans, pending)
	}
	return out, nil
}

type dataLine struct {
	h      int64
	state  model.State
	mask   model.Mask
	chosen model.Indicator
}

// decodeLine returns keep=false for blank lines and zero-h lines.
func decodeLine(line string, numFacts, numOps int) (dataLine, bool, bool, error) {
	if strings.HasPrefix(line, "#") {
		return dataLine{}, false, true, nil
	}
	if strings.TrimSpace(line) == "" {
		return dataLine{}, false, false, nil
	}

	fields := strings.Split(line, ";")
	values := make([]int64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return dataLine{}, false, false, fmt.Errorf("%w: field %d: %v", ErrFormat, i, err)
		}
		values[i] = v
	}

	if len(values) < 1+numFacts {
		return dataLine{}, false, false, fmt.Errorf("%w: state has %d facts, want %d", ErrFormat, max(len(values)-1, 0), numFacts)
	}
	if ops := len(values) - 1 - numFacts; ops != numOps {
		return dataLine{}, false, false, fmt.Errorf("%w: %d operator fields, want %d", ErrFormat, ops, numOps)
	}

	out := dataLine{
		h:      values[0],
		state:  make(model.State, numFacts),
		mask:   make(model.Mask, numOps),
		chosen: make(model.Indicator, numOps),
	}
	for i, v := range values[1 : 1+numFacts] {
		if v != 0 && v != 1 {
			return dataLine{}, false, false, fmt.Errorf("%w: fact %d has value %d", ErrFormat, i, v)
		}
		out.state[i] = uint8(v)
	}
	for i, v := range values[1+numFacts:] {
		// Bit 0 marks the chosen action, bit 1 applicability.
		if v < 0 || v > 3 {
			return dataLine{}, false, false, fmt.Errorf("%w: operator %d has value %d", ErrFormat, i, v)
		}
		out.chosen[i] = uint8(v & 1)
		out.mask[i] = v>>1 != 0
	}
	return out, out.h != 0, false, nil
}

func fieldCount(line string) int {
	return len(strings.Split(strings.TrimRight(line, "\r"), ";"))
}
