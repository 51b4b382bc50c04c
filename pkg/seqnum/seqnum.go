// Package seqnum implements sequence number and window arithmetic for the
// data transfer control protocol.
//
// Sequence numbers are 64 bits wide and are never expected to wrap around
// during the lifetime of a connection, so all comparisons use the plain
// unsigned order. Windows are closed intervals: a window [left, right]
// contains both of its edges.
package seqnum

// Value represents the value of a sequence number.
type Value uint64

// Size represents a number of sequence numbers, such as a credit.
type Size uint64

// LessThan returns true if v is before w.
func LessThan(v, w Value) bool {
	return v < w
}

// LessThanEq returns true if v is before w or v == w.
func LessThanEq(v, w Value) bool {
	return v <= w
}

// InWindow returns true if v lies inside the inclusive window [left, right].
// An inverted window (right < left) contains nothing.
func InWindow(v, left, right Value) bool {
	return left <= v && v <= right
}

// Add returns the sequence number s positions after v.
func Add(v Value, s Size) Value {
	return v + Value(s)
}

// Sizeof returns the number of sequence numbers in [v, w). It returns 0 when
// w is before v.
func Sizeof(v, w Value) Size {
	if w < v {
		return 0
	}
	return Size(w - v)
}

// Max returns the later of two sequence numbers.
func Max(v, w Value) Value {
	if v > w {
		return v
	}
	return w
}
