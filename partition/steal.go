package partition

// Steal visits every partition except home in ascending index order and calls try on it.
// It returns the first value try yields together with the index of the partition it came from.
//
// try is responsible for taking and dropping that partition's lock, so at most one
// non-local partition is locked at any instant.
func Steal[T any](partitions int, home int, try func(partition int) (T, bool)) (value T, origin int, found bool) {

	for i := 0; i < partitions; i++ {

		if i == home {
			continue
		}

		if value, ok := try(i); ok {
			return value, i, true
		}
	}

	var zero T
	return zero, -1, false
}
