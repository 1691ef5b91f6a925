package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCRate parses a C-rate from its textual forms: a plain number ("0.5",
// "-2"), a fraction ("1/5"), or the lab shorthand using C for charge and D
// for discharge ("C/2" -> 0.5, "D/2" -> -0.5, "2C/3" -> 0.6667). An empty
// string parses to zero (not set).
func ParseCRate(s string) (float64, error) {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid C-rate %q", s)
	}
	if strings.Count(parts[0], "C")+strings.Count(parts[0], "D") > 1 {
		return 0, fmt.Errorf("invalid C-rate %q", s)
	}

	var nom float64
	switch {
	case strings.Contains(parts[0], "C"):
		n := strings.TrimSpace(strings.ReplaceAll(parts[0], "C", ""))
		nom = 1
		if n != "" {
			v, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid C-rate %q", s)
			}
			nom = v
		}
	case strings.Contains(parts[0], "D"):
		n := strings.TrimSpace(strings.ReplaceAll(parts[0], "D", ""))
		nom = -1
		if n != "" {
			v, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid C-rate %q", s)
			}
			nom = -v
		}
	default:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid C-rate %q", s)
		}
		nom = v
	}

	denom, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || denom == 0 {
		return 0, fmt.Errorf("invalid C-rate %q", s)
	}
	return nom / denom, nil
}
