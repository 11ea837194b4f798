package account

// await runs an asynchronous operation and blocks until its completion
// callback fires, returning exactly what the callback received.
//
// Never call a blocking variant from inside a completion callback of the
// same account: the callback goroutine would wait on itself.
func await[T any](start func(done func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	start(func(v T, err error) {
		ch <- result{v: v, err: err}
	})
	r := <-ch
	return r.v, r.err
}
