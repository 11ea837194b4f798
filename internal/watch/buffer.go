package watch

// ring is a fixed-capacity FIFO of payments. Pushing onto a full ring
// overwrites the oldest entry.
type ring struct {
	items []PaymentInfo
	head  int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{items: make([]PaymentInfo, capacity)}
}

// push appends p and reports whether an older entry was dropped to make room.
func (r *ring) push(p PaymentInfo) bool {
	if r.size == len(r.items) {
		r.items[r.head] = p
		r.head = (r.head + 1) % len(r.items)
		return true
	}
	r.items[(r.head+r.size)%len(r.items)] = p
	r.size++
	return false
}

func (r *ring) peek() (PaymentInfo, bool) {
	if r.size == 0 {
		return PaymentInfo{}, false
	}
	return r.items[r.head], true
}

func (r *ring) pop() (PaymentInfo, bool) {
	p, ok := r.peek()
	if !ok {
		return p, false
	}
	r.items[r.head] = PaymentInfo{}
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return p, true
}

func (r *ring) len() int {
	return r.size
}
