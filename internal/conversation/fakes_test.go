package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/wolfman30/cmms-omnibot/internal/cmms"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
)

type submission struct {
	EquipmentID int
	Description string
	Priority    string
}

type fakeRecords struct {
	mu          sync.Mutex
	equipment   []cmms.Equipment
	orders      map[string]*cmms.WorkOrder
	listErr     error
	findErr     error
	orderErr    error
	submitErr   error
	submitOrder *cmms.WorkOrder
	submissions []submission
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		equipment: []cmms.Equipment{
			{ID: 1, Name: "Excavadora 01", Code: "EXC-001", Status: "Operativo"},
			{ID: 2, Name: "Camión Tolva 07", Code: "CT-007", Status: "En mantención"},
			{ID: 3, Name: "Excavadora 02", Code: "EXC-002", Status: "Operativo"},
		},
		orders: map[string]*cmms.WorkOrder{
			"OT-CORR-001": {
				Number:        "OT-CORR-001",
				Status:        "Abierta",
				EquipmentName: "Excavadora 01",
				Priority:      "Alta",
			},
		},
		submitOrder: &cmms.WorkOrder{Number: "OT-CORR-777"},
	}
}

func (f *fakeRecords) ListEquipment(context.Context) ([]cmms.Equipment, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.equipment, nil
}

func (f *fakeRecords) FindEquipment(_ context.Context, term string) (*cmms.Equipment, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return cmms.MatchEquipment(f.equipment, term), nil
}

func (f *fakeRecords) GetWorkOrder(_ context.Context, number string) (*cmms.WorkOrder, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return f.orders[strings.ToUpper(number)], nil
}

func (f *fakeRecords) SubmitFaultReport(_ context.Context, equipmentID int, description, priority string) (*cmms.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, submission{equipmentID, description, priority})
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitOrder, nil
}

func (f *fakeRecords) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submissions)
}

type fakeTrigger struct {
	mu      sync.Mutex
	records []workflow.Record
	err     error
}

func (f *fakeTrigger) Trigger(_ context.Context, rec workflow.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeTrigger) triggered() []workflow.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.Record(nil), f.records...)
}

type countingObserver struct {
	mu       sync.Mutex
	messages map[string]int
	dispatch map[string]int
	triggers map[string]int
	storeErr map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		messages: map[string]int{},
		dispatch: map[string]int{},
		triggers: map[string]int{},
		storeErr: map[string]int{},
	}
}

func (o *countingObserver) ObserveMessage(channel, intent string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages[channel+"/"+intent]++
}

func (o *countingObserver) ObserveDispatch(mode, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatch[mode+"/"+result]++
}

func (o *countingObserver) ObserveWorkflowTrigger(workflowID, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.triggers[workflowID+"/"+status]++
}

func (o *countingObserver) ObserveSessionStoreError(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storeErr[op]++
}
