package callout

// The priority queue is a binary min-heap over the arena prefix
// tab[1..queuebrk], keyed lexicographically on (time, mtime). tab[0] is
// a zero-valued sentinel, so the sift-up loops terminate without a
// bounds check. Siblings with identical keys are unordered.

// enqueue creates a free spot in the heap, sifts it upward, and returns
// the record to fill in. Callers must have reserved space with Check.
func (s *Scheduler[O]) enqueue(t uint32, m uint16) *callout {
	if s.queuebrk+1 == s.cycbrk {
		panic("callout: table overflow")
	}
	l := s.tab
	s.queuebrk++
	i := s.queuebrk
	for j := i >> 1; l[j].time > t || (l[j].time == t && l[j].mtime > m); i, j = j, j>>1 {
		l[i] = l[j]
	}

	co := &l[i]
	co.time = t
	co.mtime = m
	return co
}

// dequeue removes the heap entry at index i, refilling the hole with the
// last entry and sifting it up or down depending on its key.
func (s *Scheduler[O]) dequeue(i int) {
	l := s.tab
	t := l[s.queuebrk].time
	m := l[s.queuebrk].mtime
	if t < l[i].time || (t == l[i].time && m < l[i].mtime) {
		// sift upward
		for j := i >> 1; l[j].time > t || (l[j].time == t && l[j].mtime > m); i, j = j, j>>1 {
			l[i] = l[j]
		}
	} else {
		// sift downward
		for j := i << 1; j < s.queuebrk; i, j = j, j<<1 {
			if l[j].time > l[j+1].time ||
				(l[j].time == l[j+1].time && l[j].mtime > l[j+1].mtime) {
				j++
			}
			if t < l[j].time || (t == l[j].time && m <= l[j].mtime) {
				break
			}
			l[i] = l[j]
		}
	}
	// put into place
	l[i] = l[s.queuebrk]
	s.queuebrk--
}
