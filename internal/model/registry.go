package model

// Registry is the authoritative merged view of every known user, keyed by
// lowercased email. It is reconstructed from all storage channels on each
// replicated read and fanned out to all of them on each replicated write.
type Registry map[string]UserRecord

// Clone deep-copies the registry.
func (r Registry) Clone() Registry {
	c := make(Registry, len(r))
	for k, v := range r {
		c[k] = v.Clone()
	}
	return c
}

// Put inserts rec under its normalized email key and returns the key.
func (r Registry) Put(rec UserRecord) string {
	key := rec.EmailKey()
	r[key] = rec
	return key
}
