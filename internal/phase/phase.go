package phase

// Phase is the lifecycle of an async-derived slice of state.
type Phase string

const (
	Idle      Phase = "idle"
	Loading   Phase = "loading"
	Succeeded Phase = "succeeded"
	Failed    Phase = "failed"
)

func (p Phase) IsSettled() bool {
	return p == Succeeded || p == Failed
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	return string(p)
}
