package repository

// ConditionalResult is the outcome of a conditional write. Matched reports whether
// the write's filter matched and the row was changed; Document holds the row as
// stored after the attempt, or nil when no row exists.
type ConditionalResult[T any] struct {
	Matched  bool
	Document *T
}

func Matched[T any](doc *T) ConditionalResult[T] {
	return ConditionalResult[T]{Matched: true, Document: doc}
}

func NotMatched[T any](doc *T) ConditionalResult[T] {
	return ConditionalResult[T]{Matched: false, Document: doc}
}

// Chunk splits items into consecutive batches of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
