package subscription

// transition is an edge of the lifecycle graph.
type transition struct {
	From Kind
	To   Kind
}

// allowedTransitions lists every legal lifecycle edge. Self edges on paid
// states cover tier changes and provider refreshes.
var allowedTransitions = map[transition]bool{
	{KindTrial, KindActive}:   true,
	{KindTrial, KindExpired}:  true,
	{KindTrial, KindCanceled}: true,

	{KindActive, KindActive}:           true,
	{KindActive, KindPendingDowngrade}: true,
	{KindActive, KindCanceling}:        true,
	{KindActive, KindCanceled}:         true,

	{KindPendingDowngrade, KindActive}:           true,
	{KindPendingDowngrade, KindPendingDowngrade}: true,
	{KindPendingDowngrade, KindCanceling}:        true,
	{KindPendingDowngrade, KindCanceled}:         true,

	{KindCanceling, KindActive}:    true,
	{KindCanceling, KindCanceling}: true,
	{KindCanceling, KindCanceled}:  true,

	{KindExpired, KindActive}:  true,
	{KindCanceled, KindActive}: true,
}

// CanTransition reports whether a subscription may move from one state to another.
func CanTransition(from, to Kind) bool {
	return allowedTransitions[transition{From: from, To: to}]
}
