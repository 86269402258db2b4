package conditionals

// Frozen memoizes reads from an underlying view so that every predicate
// evaluated during one tick sees the same value for a variable, even if the
// underlying world is written to while the tick is in progress.
type Frozen struct {
	view  WorldView
	cache map[string]frozenRead
}

type frozenRead struct {
	value Value
	ok    bool
}

// Snapshotter is implemented by views that can copy all of their variables
// at once
type Snapshotter interface {
	Snapshot() MapView
}

// Freeze wraps view. Views implementing Snapshotter are copied up front;
// others are memoized on first read. A nil view reads nothing.
func Freeze(view WorldView) *Frozen {
	if s, ok := view.(Snapshotter); ok {
		return &Frozen{view: s.Snapshot(), cache: make(map[string]frozenRead)}
	}
	return &Frozen{view: view, cache: make(map[string]frozenRead)}
}

func (f *Frozen) Read(name string) (Value, bool) {
	if r, ok := f.cache[name]; ok {
		return r.value.Clone(), r.ok
	}
	var r frozenRead
	if f.view != nil {
		r.value, r.ok = f.view.Read(name)
		r.value = r.value.Clone()
	}
	f.cache[name] = r
	return r.value.Clone(), r.ok
}
