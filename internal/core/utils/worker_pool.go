package utils

import "sync"

type indexed[T any] struct {
	index  int
	result T
	err    error
}

// ParallelMap applies worker to every item using at most maxWorkers
// goroutines. Results keep the order of items. The first error encountered
// is returned once all started work has finished.
func ParallelMap[In any, Out any](items []In, worker func(In) (Out, error), maxWorkers int) ([]Out, error) {
	if len(items) == 0 {
		return nil, nil
	}
	workers := max(1, min(len(items), maxWorkers))

	queue := make(chan int, len(items))
	for i := range items {
		queue <- i
	}
	close(queue)

	completed := make(chan indexed[Out], len(items))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range queue {
				res, err := worker(items[i])
				completed <- indexed[Out]{index: i, result: res, err: err}
			}
		}()
	}
	wg.Wait()
	close(completed)

	out := make([]Out, len(items))
	var firstErr error
	firstIndex := len(items)
	for task := range completed {
		if task.err != nil {
			if task.index < firstIndex {
				firstErr, firstIndex = task.err, task.index
			}
			continue
		}
		out[task.index] = task.result
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
