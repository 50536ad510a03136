package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/printcmd/printcmd/device"
	"github.com/printcmd/printcmd/engine/storage/inmem"
)

// fakeDevice is a scripted device-control client. Each call is
// recorded; failAt makes the named call fail with failErr.
type fakeDevice struct {
	mu      sync.Mutex
	calls   []string
	scenes  int
	failAt  string
	failErr error

	// opFail makes the operation for the named submit call fail while
	// the submit itself succeeds; opTimeout makes it time out.
	opFail    string
	opTimeout string
}

func (f *fakeDevice) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.failAt == name {
		return f.failErr
	}
	return nil
}

func (f *fakeDevice) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDevice) CreateScene(ctx context.Context, settings device.SceneSettings) (string, error) {
	if err := f.record("create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes++
	return fmt.Sprintf("scene-%d", f.scenes), nil
}

func (f *fakeDevice) DeleteScene(ctx context.Context, sceneID string) error {
	return f.record("delete")
}

func (f *fakeDevice) ImportModel(ctx context.Context, sceneID, filename string, model io.Reader, opts device.ImportOptions) error {
	return f.record("import")
}

func (f *fakeDevice) submit(name string) (string, error) {
	if err := f.record(name); err != nil {
		return "", err
	}
	return "op-" + name, nil
}

func (f *fakeDevice) AutoOrient(ctx context.Context, sceneID string) (string, error) {
	return f.submit("orient")
}

func (f *fakeDevice) AutoSupport(ctx context.Context, sceneID, mode string) (string, error) {
	return f.submit("support")
}

func (f *fakeDevice) AutoLayout(ctx context.Context, sceneID string) (string, error) {
	return f.submit("layout")
}

func (f *fakeDevice) Slice(ctx context.Context, sceneID string) (string, error) {
	return f.submit("slice")
}

func (f *fakeDevice) PrintScene(ctx context.Context, sceneID, printerID, jobName string) error {
	return f.record("print")
}

func (f *fakeDevice) RemotePrintScene(ctx context.Context, sceneID, groupID, jobName string, queue bool) error {
	return f.record("remote-print")
}

func (f *fakeDevice) WaitOperation(ctx context.Context, opID string) (*device.Operation, error) {
	f.mu.Lock()
	opFail, opTimeout := f.opFail, f.opTimeout
	f.mu.Unlock()
	if opFail != "" && opID == "op-"+opFail {
		return nil, &device.OperationError{OperationID: opID, Detail: "mesh is not manifold"}
	}
	if opTimeout != "" && opID == "op-"+opTimeout {
		return nil, device.ErrOperationTimeout
	}
	return &device.Operation{ID: opID, Status: device.StatusCompleted}, nil
}

var testSettings = SceneSettings{
	PrinterType:   "Form 4",
	MaterialCode:  "FLGPGR05",
	LayerHeightMM: 0.1,
}

func testEngine(t *testing.T, dev *fakeDevice, opts ...Option) *Engine {
	t.Helper()
	return New(dev, inmem.New(), opts...)
}

func runChain(ctx context.Context, e *Engine, tenantID, sceneID string) error {
	if err := e.Import(ctx, tenantID, sceneID, strings.NewReader("solid"), ImportOptions{Filename: "part.stl"}); err != nil {
		return err
	}
	if err := e.Orient(ctx, tenantID, sceneID); err != nil {
		return err
	}
	if err := e.Support(ctx, tenantID, sceneID, DefaultSupportMode); err != nil {
		return err
	}
	if err := e.Layout(ctx, tenantID, sceneID); err != nil {
		return err
	}
	if err := e.Slice(ctx, tenantID, sceneID); err != nil {
		return err
	}
	return e.Send(ctx, tenantID, sceneID, SendOptions{PrinterID: "Form4-abc", JobName: "part"})
}

func TestFullChain(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	if err = runChain(ctx, e, "tenant-a", sceneID); err != nil {
		t.Fatal(err)
	}

	record, err := e.Scene(ctx, "tenant-a", sceneID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := record.State, StateSent; have != want {
		t.Errorf("state: have: %v, want: %v", have, want)
	}
	if have, want := record.ModelCount, 1; have != want {
		t.Errorf("model count: have: %v, want: %v", have, want)
	}
}

func TestInvalidSettings(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)

	_, err := e.CreateScene(context.Background(), "tenant-a", SceneSettings{
		PrinterType:   "Form 9000",
		MaterialCode:  "FLGPGR05",
		LayerHeightMM: 0.1,
	})
	if err == nil {
		t.Fatal("expected error for unknown printer type")
	}
	if have, want := len(dev.callNames()), 0; have != want {
		t.Errorf("device calls: have: %v, want: %v", have, want)
	}
}

func TestStepOrder(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	// out-of-order steps must not reach the device.
	if err = e.Slice(ctx, "tenant-a", sceneID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("have: %v, want: %v", err, ErrInvalidTransition)
	}
	if err = e.Send(ctx, "tenant-a", sceneID, SendOptions{PrinterID: "p"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("have: %v, want: %v", err, ErrInvalidTransition)
	}
	if have, want := len(dev.callNames()), 1; have != want {
		t.Errorf("device calls: have: %v, want: %v", have, want)
	}
}

func TestStepFailureHaltsChain(t *testing.T) {
	dev := &fakeDevice{failAt: "support", failErr: errors.New("supports could not be generated")}
	e := testEngine(t, dev)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	err = runChain(ctx, e, "tenant-a", sceneID)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, have: %v", err)
	}
	if have, want := stepErr.Step, StepSupport; have != want {
		t.Errorf("failed step: have: %v, want: %v", have, want)
	}

	record, err := e.Scene(ctx, "tenant-a", sceneID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := record.State, StateFailed; have != want {
		t.Errorf("state: have: %v, want: %v", have, want)
	}
	if have, want := record.FailedStep, StepSupport; have != want {
		t.Errorf("failed step record: have: %v, want: %v", have, want)
	}
	if have, want := record.LastError, "supports could not be generated"; have != want {
		t.Errorf("last error: have: %v, want: %v", have, want)
	}

	for _, call := range dev.callNames() {
		if call == "layout" || call == "slice" || call == "print" {
			t.Errorf("step after failure reached device: %v", call)
		}
	}

	// a failed scene accepts no further steps.
	if err = e.Layout(ctx, "tenant-a", sceneID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("have: %v, want: %v", err, ErrInvalidTransition)
	}
}

func TestAsyncOperationFailure(t *testing.T) {
	dev := &fakeDevice{opFail: "orient"}
	e := testEngine(t, dev)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	err = runChain(ctx, e, "tenant-a", sceneID)
	var opErr *device.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, have: %v", err)
	}

	record, err := e.Scene(ctx, "tenant-a", sceneID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := record.State, StateFailed; have != want {
		t.Errorf("state: have: %v, want: %v", have, want)
	}
	if !strings.Contains(record.LastError, "mesh is not manifold") {
		t.Errorf("last error does not carry server detail: %v", record.LastError)
	}
}

func TestAsyncOperationTimeout(t *testing.T) {
	dev := &fakeDevice{opTimeout: "slice"}
	e := testEngine(t, dev)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	err = runChain(ctx, e, "tenant-a", sceneID)
	if !errors.Is(err, device.ErrOperationTimeout) {
		t.Fatalf("have: %v, want: %v", err, device.ErrOperationTimeout)
	}

	record, err := e.Scene(ctx, "tenant-a", sceneID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := record.State, StateFailed; have != want {
		t.Errorf("state: have: %v, want: %v", have, want)
	}
	if have, want := record.FailedStep, StepSlice; have != want {
		t.Errorf("failed step: have: %v, want: %v", have, want)
	}
}

func TestTenantIsolation(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = e.Scene(ctx, "tenant-b", sceneID); !errors.Is(err, ErrWrongTenant) {
		t.Fatalf("have: %v, want: %v", err, ErrWrongTenant)
	}
	if err = e.Import(ctx, "tenant-b", sceneID, strings.NewReader("x"), ImportOptions{}); !errors.Is(err, ErrWrongTenant) {
		t.Fatalf("have: %v, want: %v", err, ErrWrongTenant)
	}
	if err = e.DeleteScene(ctx, "tenant-b", sceneID); !errors.Is(err, ErrWrongTenant) {
		t.Fatalf("have: %v, want: %v", err, ErrWrongTenant)
	}
}

func TestSceneCap(t *testing.T) {
	dev := &fakeDevice{}
	e := testEngine(t, dev, WithSceneCap(2))
	ctx := context.Background()

	if _, err := e.CreateScene(ctx, "tenant-a", testSettings); err != nil {
		t.Fatal(err)
	}
	second, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = e.CreateScene(ctx, "tenant-a", testSettings); !errors.Is(err, ErrSceneCap) {
		t.Fatalf("have: %v, want: %v", err, ErrSceneCap)
	}

	// deleting a scene frees its slot.
	if err = e.DeleteScene(ctx, "tenant-a", second); err != nil {
		t.Fatal(err)
	}
	if _, err = e.CreateScene(ctx, "tenant-a", testSettings); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerExpiresIdleScenes(t *testing.T) {
	dev := &fakeDevice{}
	store := inmem.New()
	e := New(dev, store)
	ctx := context.Background()

	sceneID, err := e.CreateScene(ctx, "tenant-a", testSettings)
	if err != nil {
		t.Fatal(err)
	}

	record, err := store.RetrieveScene(ctx, sceneID)
	if err != nil {
		t.Fatal(err)
	}
	record.UpdatedAt = time.Now().Add(-time.Hour)
	if err = store.StoreScene(ctx, record); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(e, WithIdleTimeout(time.Minute*30))
	if err = w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err = e.Scene(ctx, "tenant-a", sceneID); err == nil {
		t.Fatal("expired scene still retrievable")
	}

	deleted := false
	for _, call := range dev.callNames() {
		if call == "delete" {
			deleted = true
		}
	}
	if !deleted {
		t.Error("server scene was not deleted")
	}
}
