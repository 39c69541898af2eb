package bus

import "container/list"

// retainedStore is a bounded, insertion-ordered map from topic to its
// last retained Envelope. On overflow the least-recently-inserted-or-
// updated entry is evicted (§3's LRU bound). Update is implemented as
// remove-then-reinsert so overwriting a topic always moves it to the
// most-recently-used end, resolving the "update in place" ambiguity
// noted in spec.md §9 in favor of unambiguous LRU semantics.
type retainedStore struct {
	capacity int
	order    *list.List               // front = oldest, back = newest
	entries  map[string]*list.Element // topic -> node in order
}

type retainedEntry struct {
	topic string
	env   Envelope
}

func newRetainedStore(capacity int) *retainedStore {
	return &retainedStore{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// put stores env as the retained message for its topic, evicting the
// oldest entry if the store is at capacity. It returns the topic that
// was evicted, if any.
func (s *retainedStore) put(env Envelope) (evicted string, didEvict bool) {
	if el, ok := s.entries[env.Topic]; ok {
		s.order.Remove(el)
		delete(s.entries, env.Topic)
	}

	el := s.order.PushBack(&retainedEntry{topic: env.Topic, env: env})
	s.entries[env.Topic] = el

	if s.capacity > 0 && s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		evicted = oldest.Value.(*retainedEntry).topic
		delete(s.entries, evicted)
		didEvict = true
	}
	return evicted, didEvict
}

func (s *retainedStore) get(topic string) (Envelope, bool) {
	el, ok := s.entries[topic]
	if !ok {
		return Envelope{}, false
	}
	return el.Value.(*retainedEntry).env, true
}

// matching returns, in insertion order, every retained entry whose
// topic matches any of the given patterns.
func (s *retainedStore) matching(patterns []string, allowGlobal bool) []Envelope {
	var out []Envelope
	for el := s.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*retainedEntry)
		for _, p := range patterns {
			if Matches(entry.topic, p, allowGlobal) {
				out = append(out, entry.env)
				break
			}
		}
	}
	return out
}

// clear removes retained entries matching pattern, or all entries if
// pattern is empty. It returns the number of entries removed.
func (s *retainedStore) clear(pattern string, allowGlobal bool) int {
	var toRemove []string
	for topic := range s.entries {
		if pattern == "" || Matches(topic, pattern, allowGlobal) {
			toRemove = append(toRemove, topic)
		}
	}
	for _, topic := range toRemove {
		if el, ok := s.entries[topic]; ok {
			s.order.Remove(el)
			delete(s.entries, topic)
		}
	}
	return len(toRemove)
}

func (s *retainedStore) len() int {
	return s.order.Len()
}
