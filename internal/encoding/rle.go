// Package encoding handles the voxel payload formats used in OBS messages.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxDecodedIDs bounds DecodeRLE output. Grids larger than this are rejected.
const MaxDecodedIDs = 1 << 22

var ErrTooLarge = errors.New("rle: payload expands past limit")

// EncodeRLE writes ids as base64 of (palette_id, run_len) uvarint pairs.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	put := func(v uint64) { buf.Write(tmp[:binary.PutUvarint(tmp[:], v)]) }

	for i := 0; i < len(ids); {
		j := i + 1
		for j < len(ids) && ids[j] == ids[i] {
			j++
		}
		put(uint64(ids[i]))
		put(uint64(j - i))
		i = j
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE expands a payload of unknown size, failing with ErrTooLarge once
// it passes MaxDecodedIDs.
func DecodeRLE(b64 string) ([]uint16, error) {
	var out []uint16
	stopped, err := eachRun(b64, func(id uint16, run uint64) bool {
		if run > uint64(MaxDecodedIDs-len(out)) {
			return false
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if stopped {
		return nil, ErrTooLarge
	}
	return out, nil
}

// DecodeRLEInto decodes into a grid of exactly n ids. Short payloads are
// zero-padded; runs past n are clipped and the rest of the payload is ignored.
func DecodeRLEInto(b64 string, n int) ([]uint16, error) {
	if n < 0 {
		return nil, fmt.Errorf("rle: negative grid size %d", n)
	}
	out := make([]uint16, n)
	pos := 0
	_, err := eachRun(b64, func(id uint16, run uint64) bool {
		left := uint64(n - pos)
		if run > left {
			run = left
		}
		for k := uint64(0); k < run; k++ {
			out[pos] = id
			pos++
		}
		return pos < n
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// eachRun walks the (id, run) pairs of b64 until fn returns false, reporting
// whether it stopped early.
func eachRun(b64 string, fn func(id uint16, run uint64) bool) (stopped bool, err error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return false, err
	}
	for i := 0; i < len(raw); {
		id, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return false, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return false, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if id > math.MaxUint16 {
			return false, fmt.Errorf("block id too large: %d", id)
		}
		if run > math.MaxInt {
			return false, fmt.Errorf("run length too large: %d", run)
		}
		if !fn(uint16(id), run) {
			return true, nil
		}
	}
	return false, nil
}
