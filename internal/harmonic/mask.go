package harmonic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskSize is the number of harmonics that can be toggled individually.
const MaskSize = 32

// Mask holds the per-harmonic enable flags for harmonics 1..32. Bit h-1 set
// means harmonic h is enabled.
type Mask uint32

// AllEnabled has every harmonic 1..32 switched on.
const AllEnabled Mask = 0xFFFFFFFF

// MaskOf builds a mask with the listed harmonics enabled. Values outside
// 1..32 are ignored.
func MaskOf(hs ...int) Mask {
	var m Mask
	for _, h := range hs {
		m = m.With(h, true)
	}
	return m
}

// Enabled reports whether harmonic h is switched on.
func (m Mask) Enabled(h int) bool {
	if h < 1 || h > MaskSize {
		return false
	}
	return m&(1<<uint(h-1)) != 0
}

// With returns a copy of m with harmonic h set to on.
func (m Mask) With(h int, on bool) Mask {
	if h < 1 || h > MaskSize {
		return m
	}
	bit := Mask(1) << uint(h-1)
	if on {
		return m | bit
	}
	return m &^ bit
}

// Harmonics lists the enabled harmonics in ascending order.
func (m Mask) Harmonics() []int {
	var out []int
	for h := 1; h <= MaskSize; h++ {
		if m.Enabled(h) {
			out = append(out, h)
		}
	}
	return out
}

// Max returns the largest enabled harmonic, or 0 when none is enabled.
func (m Mask) Max() int {
	for h := MaskSize; h >= 1; h-- {
		if m.Enabled(h) {
			return h
		}
	}
	return 0
}

func (m Mask) String() string {
	hs := m.Harmonics()
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, ",")
}

// ParseMask reads "all" or a comma separated list of harmonics.
func ParseMask(s string) (Mask, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return AllEnabled, nil
	}
	var m Mask
	for _, part := range strings.Split(s, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 1 || h > MaskSize {
			return 0, fmt.Errorf("harmonic %q out of range 1..%d", part, MaskSize)
		}
		m = m.With(h, true)
	}
	return m, nil
}

// UnmarshalYAML accepts "all", a comma separated string or a sequence.
func (m *Mask) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var hs []int
		if err := value.Decode(&hs); err != nil {
			return err
		}
		*m = MaskOf(hs...)
		return nil
	}
	parsed, err := ParseMask(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mask) MarshalJSON() ([]byte, error) {
	hs := m.Harmonics()
	if hs == nil {
		hs = []int{}
	}
	return json.Marshal(hs)
}

func (m *Mask) UnmarshalJSON(b []byte) error {
	var hs []int
	if err := json.Unmarshal(b, &hs); err == nil {
		*m = MaskOf(hs...)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("harmonic mask: %w", err)
	}
	parsed, err := ParseMask(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
