package orchestrator

// SplitIntoBatches is a generic function that divides a slice of items
// into batches of the specified size
func SplitIntoBatches[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		return nil
	}

	if len(items) == 0 {
		return [][]T{}
	}

	numBatches := (len(items) + batchSize - 1) / batchSize
	batches := make([][]T, 0, numBatches)

	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize

		// Handle the last batch which might be smaller
		if end > len(items) {
			end = len(items)
		}

		batches = append(batches, items[i:end])
	}

	return batches
}
