// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}

// Mean calculates and returns the mean of a list of float64
func Mean(floats ...float64) float64 {
	sum := 0.0
	for _, val := range floats {
		sum += val
	}
	return sum / float64(len(floats))
}

// Finite returns whether every value in a list is finite, that is,
// neither NaN nor an infinity
func Finite(floats ...float64) bool {
	for _, val := range floats {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return false
		}
	}
	return true
}
