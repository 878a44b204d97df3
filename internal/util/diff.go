package util

import "reflect"

type DiffValue struct {
	Left  any
	Right any
}

// MapDiff returns the keys whose values differ between a and b. A key missing
// on one side is reported with a nil value on that side.
func MapDiff[K comparable, V any](a, b map[K]V) map[K]DiffValue {
	c := make(map[K]DiffValue)
	for k, v := range a {
		if bv, ok := b[k]; ok {
			if reflect.DeepEqual(v, bv) {
				continue
			} else {
				c[k] = DiffValue{v, bv}
			}
		} else {
			c[k] = DiffValue{v, nil}
		}
	}
	for k, v := range b {
		if _, ok := a[k]; !ok {
			c[k] = DiffValue{nil, v}
		}
	}
	return c
}
