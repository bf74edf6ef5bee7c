package storage

// defaultIteratorBatchSize is used when a caller asks for a batch size of
// zero or less, and as the size of each underlying neighbor fetch. The
// iterator_batch_size config value is not read here.
const defaultIteratorBatchSize = 256

// AdjacencyIterator walks one vertex's adjacency, batching underlying
// fetches from the neighbor skip lists and filtering each candidate edge
// through the transaction's own MVCC visibility check (C7). It is not
// safe for concurrent use; a single iterator is driven by one goroutine
// at a time, matching how the rest of the transaction API works.
type AdjacencyIterator struct {
	txn      *Transaction
	vertexID VertexId
	dir      Direction

	outAfter *EdgeId
	inAfter  *EdgeId
	outDone  bool
	inDone   bool
	outBuf   []Neighbor
	inBuf    []Neighbor

	filter  func(Neighbor) bool
	current *Neighbor
}

// Adjacency returns an iterator over id's neighbors on side dir, visible
// to t's snapshot. For Direction::Both, the outgoing and incoming sets
// are merged into a single ascending-eid stream; a self-loop (an edge
// whose endpoints are both id) occupies a slot in both underlying
// indexes but is reported exactly once (§4.6, §9 design note).
func (t *Transaction) Adjacency(id VertexId, dir Direction) *AdjacencyIterator {
	it := &AdjacencyIterator{txn: t, vertexID: id, dir: dir}
	if dir == DirIncoming {
		it.outDone = true
	}
	if dir == DirOutgoing {
		it.inDone = true
	}
	return it
}

// WithFilter attaches a user predicate evaluated after MVCC visibility
// filtering (§4.6: "Additional predicates may be attached via a builder
// method ... applied after visibility"). It returns the iterator itself
// so it can be chained directly off Adjacency.
func (it *AdjacencyIterator) WithFilter(pred func(Neighbor) bool) *AdjacencyIterator {
	it.filter = pred
	return it
}

// Done reports whether the iterator is exhausted: once it returns true, no
// further call to Next or Seek can return more entries.
func (it *AdjacencyIterator) Done() bool {
	return it.outDone && it.inDone && len(it.outBuf) == 0 && len(it.inBuf) == 0
}

// CurrentEntry returns the most recently yielded element, or false
// before the first call to Next or Seek (§4.6 "current_entry()").
func (it *AdjacencyIterator) CurrentEntry() (Neighbor, bool) {
	if it.current == nil {
		return Neighbor{}, false
	}
	return *it.current, true
}

// Seek advances the iterator until the next visible, filter-passing
// element has an eid >= target, and reports true iff that element's eid
// equals target exactly (§4.6 "seek(eid)"). CurrentEntry reflects
// whatever was last yielded while searching, including a miss.
func (it *AdjacencyIterator) Seek(target EdgeId) bool {
	for {
		n, ok := it.advanceOne()
		if !ok {
			return false
		}
		if n.EdgeID >= target {
			return n.EdgeID == target
		}
	}
}

// Next returns up to batchSize visible, filter-passing Neighbor entries,
// advancing the iterator's internal cursor. It keeps fetching from the
// underlying lists until the batch is full or both sides are exhausted, so
// a batch shorter than batchSize (possibly empty) means nothing visible
// remained. After a full batch Done() can still report false even when no
// visible entry is left, so callers loop until Done() reports true.
func (it *AdjacencyIterator) Next(batchSize int) []Neighbor {
	if batchSize <= 0 {
		batchSize = defaultIteratorBatchSize
	}
	out := make([]Neighbor, 0, batchSize)
	for len(out) < batchSize {
		n, ok := it.advanceOne()
		if !ok {
			break
		}
		out = append(out, n)
	}
	return out
}

// advanceOne yields the single next visible, filter-passing neighbor in
// ascending eid order across whichever side(s) dir selects, merging the
// outgoing and incoming streams for Direction::Both so a self-loop
// (identical eid on both sides) collapses into one entry instead of two.
func (it *AdjacencyIterator) advanceOne() (Neighbor, bool) {
	for {
		out, haveOut := it.peekOutgoing()
		in, haveIn := it.peekIncoming()
		if !haveOut && !haveIn {
			return Neighbor{}, false
		}

		var n Neighbor
		switch {
		case haveOut && haveIn && out.EdgeID == in.EdgeID:
			it.outBuf = it.outBuf[1:]
			it.inBuf = it.inBuf[1:]
			n = out
		case haveIn && (!haveOut || in.EdgeID < out.EdgeID):
			it.inBuf = it.inBuf[1:]
			n = in
		default:
			it.outBuf = it.outBuf[1:]
			n = out
		}

		if it.isVisibleEdge(n.EdgeID) && it.passesFilter(n) {
			it.current = &n
			return n, true
		}
	}
}

// peekOutgoing returns the next not-yet-consumed outgoing neighbor
// without removing it, refilling the buffer from the skip list as
// needed. Unused when dir == DirIncoming.
func (it *AdjacencyIterator) peekOutgoing() (Neighbor, bool) {
	if it.dir == DirIncoming {
		return Neighbor{}, false
	}
	for len(it.outBuf) == 0 && !it.outDone {
		raw, more := it.txn.neighborsRaw(it.vertexID, DirOutgoing, it.outAfter, defaultIteratorBatchSize)
		if len(raw) > 0 {
			last := raw[len(raw)-1].EdgeID
			it.outAfter = &last
		}
		if !more {
			it.outDone = true
		}
		it.outBuf = append(it.outBuf, raw...)
	}
	if len(it.outBuf) == 0 {
		return Neighbor{}, false
	}
	return it.outBuf[0], true
}

// peekIncoming is peekOutgoing's incoming-side counterpart. Unused when
// dir == DirOutgoing.
func (it *AdjacencyIterator) peekIncoming() (Neighbor, bool) {
	if it.dir == DirOutgoing {
		return Neighbor{}, false
	}
	for len(it.inBuf) == 0 && !it.inDone {
		raw, more := it.txn.neighborsRaw(it.vertexID, DirIncoming, it.inAfter, defaultIteratorBatchSize)
		if len(raw) > 0 {
			last := raw[len(raw)-1].EdgeID
			it.inAfter = &last
		}
		if !more {
			it.inDone = true
		}
		it.inBuf = append(it.inBuf, raw...)
	}
	if len(it.inBuf) == 0 {
		return Neighbor{}, false
	}
	return it.inBuf[0], true
}

func (it *AdjacencyIterator) passesFilter(n Neighbor) bool {
	return it.filter == nil || it.filter(n)
}

func (it *AdjacencyIterator) isVisibleEdge(id EdgeId) bool {
	_, err := it.txn.store.getEdge(it.txn, id)
	return err == nil
}
