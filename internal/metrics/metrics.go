package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	SpotOrdersPlaced   Counter
	SwapOrdersPlaced   Counter
	SpotOrdersFailed   Counter
	SwapOrdersFailed   Counter
	OpenWorkflows      Counter
	CloseWorkflows     Counter
	PartialLegFailures Counter
	Reconciles         Counter
	ReconcileFailures  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		SpotOrdersPlaced:   n,
		SwapOrdersPlaced:   n,
		SpotOrdersFailed:   n,
		SwapOrdersFailed:   n,
		OpenWorkflows:      n,
		CloseWorkflows:     n,
		PartialLegFailures: n,
		Reconciles:         n,
		ReconcileFailures:  n,
	}
}
