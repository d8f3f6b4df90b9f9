package conversation

// Observer receives engine and dispatcher events for metrics.
type Observer interface {
	ObserveMessage(channel, intent string)
	ObserveDispatch(mode, result string)
	ObserveWorkflowTrigger(workflowID, status string)
	ObserveSessionStoreError(op string)
}

type nopObserver struct{}

func (nopObserver) ObserveMessage(string, string)         {}
func (nopObserver) ObserveDispatch(string, string)        {}
func (nopObserver) ObserveWorkflowTrigger(string, string) {}
func (nopObserver) ObserveSessionStoreError(string)       {}
