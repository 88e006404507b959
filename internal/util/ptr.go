package util

// Ptr returns a pointer to v. Store patches take optional fields as
// pointers; this lets tests build them from literals.
func Ptr[T any](v T) *T {
	return &v
}
