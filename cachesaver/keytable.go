package cachesaver

// keyTable deduplicates Extra keys, every record stores key indices only.
type keyTable struct {
	m    map[string]uint64
	keys []string
}

func newKeyTable() *keyTable {
	return &keyTable{
		m: make(map[string]uint64),
	}
}

func (kt *keyTable) Add(key string) uint64 {
	i, ok := kt.m[key]
	if !ok {
		i = uint64(len(kt.keys))
		kt.m[key] = i
		kt.keys = append(kt.keys, key)
	}
	return i
}

func (kt *keyTable) Slice() []string {
	return kt.keys
}
