package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	courierBatchesTotal = nil
	courierBatchRunning = nil
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if courierBatchesTotal == nil || courierBatchRunning == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check to see if a metric can be used.
	BatchStarted()
	if val := testutil.ToFloat64(courierBatchRunning); val != 1 {
		t.Errorf("Expected courierBatchRunning to be 1, got %f", val)
	}
	BatchFinished("completed", 12*time.Second)
	if val := testutil.ToFloat64(courierBatchRunning); val != 0 {
		t.Errorf("Expected courierBatchRunning to be 0, got %f", val)
	}
	if val := testutil.ToFloat64(courierBatchesTotal.WithLabelValues("completed")); val != 1 {
		t.Errorf("Expected courierBatchesTotal to be 1, got %f", val)
	}
}

func TestAddRegistryPurged(t *testing.T) {
	Init()

	before := testutil.ToFloat64(courierRegistryPurgedTotal)
	AddRegistryPurged(3)
	AddRegistryPurged(0)
	AddRegistryPurged(-2)
	after := testutil.ToFloat64(courierRegistryPurgedTotal)

	if after-before != 3 {
		t.Errorf("Expected purge counter to grow by 3, got %f", after-before)
	}
}
