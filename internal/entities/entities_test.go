package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engiero/internal/normalize"
	"engiero/internal/snapshot"
)

// Mock implementations

type fakeSource struct {
	snap    *snapshot.Snapshot
	success bool
}

func (f *fakeSource) Data() *snapshot.Snapshot { return f.snap }
func (f *fakeSource) LastUpdateSuccess() bool  { return f.success }

func sampleSnapshot() *snapshot.Snapshot {
	s := snapshot.New(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), "mobile_login")
	s.Account = normalize.Record{"pa": "PA1", "poc": "5001", "division": "gaz"}
	s.LatestIndex = normalize.Record{"date": "2025-05-20", "value": 1234.5, "unit": "mc", "source": nil}
	s.LatestInvoice = normalize.Record{"id": "INV-9", "amount": 210.4}
	s.UnpaidTotal = 150.25
	s.InvoiceHistory = []normalize.Record{{"id": "INV-9"}}
	return s
}

func sensorByKey(t *testing.T, sensors []*Sensor, key string) *Sensor {
	t.Helper()
	for _, s := range sensors {
		if s.desc.Key == key {
			return s
		}
	}
	t.Fatalf("sensor %s not found", key)
	return nil
}

// Tests

func TestDig(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 3.0}},
		"l": []any{1, 2},
	}

	assert.Equal(t, 3.0, Dig(data, "a.b.c"))
	assert.Equal(t, map[string]any{"c": 3.0}, Dig(data, "a.b"))
	assert.Nil(t, Dig(data, "a.x.c"))
	assert.Nil(t, Dig(data, "l.0"))
	assert.Nil(t, Dig(nil, "a"))
}

func TestBuild_UniqueIDs(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot(), success: true}
	sensors := Build("home", src)

	require.Len(t, sensors, len(Sensors))
	assert.Equal(t, "home_PA1_latest_index.value", sensors[0].UniqueID())
	assert.Equal(t, "pa:PA1", sensors[0].State().Device.Identifier)

	seen := map[string]bool{}
	for _, s := range sensors {
		assert.False(t, seen[s.UniqueID()], s.UniqueID())
		seen[s.UniqueID()] = true
	}
}

func TestBuild_UnknownPA(t *testing.T) {
	sensors := Build("home", &fakeSource{})
	assert.Equal(t, "home_PA_UNKNOWN_unpaid_total", sensorByKey(t, sensors, "unpaid_total").UniqueID())
}

func TestSensor_ValuesAndAvailability(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot(), success: true}
	sensors := Build("home", src)

	assert.Equal(t, 1234.5, sensorByKey(t, sensors, "latest_index.value").Value())
	assert.Equal(t, 210.4, sensorByKey(t, sensors, "latest_invoice.amount").Value())
	assert.Equal(t, 150.25, sensorByKey(t, sensors, "unpaid_total").Value())

	// Placeholders dig to nil
	assert.Nil(t, sensorByKey(t, sensors, "index_window.last_index").Value())

	state := sensorByKey(t, sensors, "unpaid_total").State()
	assert.True(t, state.Available)
	assert.Equal(t, "5001", state.Attributes["poc"])
	assert.Equal(t, "gaz", state.Attributes["division"])
	assert.Len(t, state.Attributes["invoice_history"], 1)

	// Failed cycle keeps the last value but marks unavailable
	src.success = false
	state = sensorByKey(t, sensors, "unpaid_total").State()
	assert.False(t, state.Available)
	assert.Equal(t, 150.25, state.Value)
}

func TestSensor_NoData(t *testing.T) {
	sensors := Build("home", &fakeSource{})
	s := sensorByKey(t, sensors, "latest_index.value")

	assert.Nil(t, s.Value())
	assert.False(t, s.Available())
	assert.Nil(t, s.Attributes()["poc"])
}
