package health

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"
)

// IntOrPercentage mirrors apimachinery's intstr.IntOrString but additionally
// carries the percentage interpretation that upstream leaves to callers
// (§12, P8). It is parsed from the same two shapes intstr accepts: a bare
// integer, or a string, where a trailing '%' marks a percentage.
type IntOrPercentage struct {
	isPercentage bool
	intVal       int32
	percent      float64
}

// IntValue builds an IntOrPercentage holding a plain integer.
func IntValue(i int32) IntOrPercentage {
	return IntOrPercentage{intVal: i}
}

// PercentValue builds an IntOrPercentage holding a fraction in [−1, 1]
// (already divided by 100; 50% is represented as 0.5).
func PercentValue(p float64) IntOrPercentage {
	return IntOrPercentage{isPercentage: true, percent: p}
}

// FromIntOrString converts an apimachinery IntOrString, applying the same
// percentage-suffix parsing rule.
func FromIntOrString(v intstr.IntOrString) (IntOrPercentage, error) {
	if v.Type == intstr.Int {
		return IntValue(v.IntVal), nil
	}
	return ParseIntOrPercentage(v.StrVal)
}

// ParseIntOrPercentage parses s as either a plain integer or a "<int>%"
// percentage.
func ParseIntOrPercentage(s string) (IntOrPercentage, error) {
	if percent, ok := strings.CutSuffix(s, "%"); ok {
		n, err := strconv.ParseInt(percent, 10, 32)
		if err != nil {
			return IntOrPercentage{}, fmt.Errorf("invalid percentage %q: %w", s, err)
		}
		return PercentValue(float64(n) / 100.0), nil
	}

	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return IntOrPercentage{}, fmt.Errorf("invalid int-or-percentage %q: %w", s, err)
	}
	return IntValue(int32(n)), nil
}

// ScaledValue implements P8: for an Int it returns the value unchanged;
// for a Percentage it scales total by the fraction, rounding up or down as
// requested.
func (v IntOrPercentage) ScaledValue(total int32, roundUp bool) int32 {
	if !v.isPercentage {
		return v.intVal
	}
	scaled := float64(total) * v.percent
	if roundUp {
		return int32(math.Ceil(scaled))
	}
	return int32(math.Floor(scaled))
}

func (v IntOrPercentage) String() string {
	if !v.isPercentage {
		return strconv.Itoa(int(v.intVal))
	}
	return fmt.Sprintf("%d%%", int(v.percent*100))
}
