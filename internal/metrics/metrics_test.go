package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCycle(t *testing.T) {
	RecordCycle("m-cycle", 1.5, nil)
	RecordCycle("m-cycle", 2.0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(CyclesTotal.WithLabelValues("m-cycle", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CyclesTotal.WithLabelValues("m-cycle", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(EntryAvailable.WithLabelValues("m-cycle")))

	RecordCycle("m-cycle", 1.0, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(EntryAvailable.WithLabelValues("m-cycle")))
}

func TestRecordSectionFailureAndLogin(t *testing.T) {
	RecordSectionFailure("m-sec", "divisions")
	RecordSectionFailure("m-sec", "divisions")
	RecordLogin("m-sec", nil)
	SetUnpaidTotal("m-sec", 150.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(SectionFailures.WithLabelValues("m-sec", "divisions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(LoginsTotal.WithLabelValues("m-sec", "success")))
	assert.Equal(t, 150.25, testutil.ToFloat64(UnpaidTotal.WithLabelValues("m-sec")))
}

func TestForget(t *testing.T) {
	SetUnpaidTotal("m-forget", 10)
	RecordSectionFailure("m-forget", "balance")

	unpaid := testutil.CollectAndCount(UnpaidTotal)
	sections := testutil.CollectAndCount(SectionFailures)

	Forget("m-forget")

	assert.Equal(t, unpaid-1, testutil.CollectAndCount(UnpaidTotal))
	assert.Equal(t, sections-1, testutil.CollectAndCount(SectionFailures))
}
