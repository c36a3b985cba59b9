package embedding

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Format renders values as a pgvector text literal with six decimals.
// Non-finite values are written as 0.
func Format(values []float32) string {
	var b strings.Builder
	b.Grow(len(values)*10 + 2)
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		f := float64(v)
		if !finite(f) {
			f = 0
		}
		b.WriteString(strconv.FormatFloat(f, 'f', 6, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// Parse reads a pgvector text literal produced by Format.
func Parse(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, errors.New("vector literal must be enclosed in brackets")
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parsing element %d: %w", i, err)
		}
		if !finite(f) {
			return nil, fmt.Errorf("element %d is not finite", i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

