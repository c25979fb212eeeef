package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced       Counter
	OrdersFailed       Counter
	StopLosses         Counter
	TakeProfits        Counter
	LossGateSuppressed Counter
	InsufficientData   Counter
	DataFetchFailed    Counter
	CycleFailures      Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:       n,
		OrdersFailed:       n,
		StopLosses:         n,
		TakeProfits:        n,
		LossGateSuppressed: n,
		InsufficientData:   n,
		DataFetchFailed:    n,
		CycleFailures:      n,
	}
}
