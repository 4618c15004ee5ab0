package vectordb

import (
	"fmt"
	"math"
	"sort"
)

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}

	return nil
}

// squaredL2 计算平方欧氏距离
func squaredL2(v1, v2 []float32) float32 {
	var sum float32
	for i := 0; i < len(v1); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return sum
}

// EuclideanDistance 计算欧几里德距离
func EuclideanDistance(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrInvalidDimension, len(v1), len(v2))
	}
	return float32(math.Sqrt(float64(squaredL2(v1, v2)))), nil
}

// SortSearchResults 按距离升序排序，距离相同时按行号升序
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Row < results[j].Row
	})
}

// clampK 限制k到 [0, total]
func clampK(k, total int) int {
	if k > total {
		return total
	}
	if k < 0 {
		return 0
	}
	return k
}
