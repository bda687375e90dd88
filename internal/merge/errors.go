package merge

// InvariantError reports a merge state that well-formed input cannot reach.
// It is raised with panic at the detection site; API boundaries turn it into
// an ordinary error with Recover.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return "merge invariant violated in " + e.Op + ": " + e.Detail
}

// Recover converts an *InvariantError panic into *err. Other panics are
// re-raised. Use it as `defer merge.Recover(&err)`.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if ie, ok := r.(*InvariantError); ok {
		*err = ie
		return
	}
	panic(r)
}
