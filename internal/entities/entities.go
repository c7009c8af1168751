// Package entities exposes snapshot values as read-only sensors.
package entities

import (
	"fmt"
	"strings"

	"engiero/internal/normalize"
	"engiero/internal/snapshot"
)

const (
	Manufacturer = "ENGIE România"
	Attribution  = "Date furnizate de Engie România"

	unknownPA = "PA_UNKNOWN"
)

// Description defines one sensor by a dotted path into the snapshot
type Description struct {
	Key  string
	Name string
	Icon string
	Unit string
}

// Sensors lists the sensors created for every entry.
var Sensors = []Description{
	{Key: "latest_index.value", Name: "Index curent", Icon: "mdi:counter", Unit: "kWh"},
	{Key: "latest_invoice.amount", Name: "Ultima factură", Icon: "mdi:receipt-text"},
	{Key: "unpaid_total", Name: "Sold de plată", Icon: "mdi:cash-clock"},
	{Key: "balance.total", Name: "Sold", Icon: "mdi:scale-balance"},
	{Key: "index_window.last_index", Name: "Ultimul index transmis", Icon: "mdi:counter", Unit: "kWh"},
	{Key: "index_window.end_date", Name: "Sfârșit perioadă citire", Icon: "mdi:calendar-end"},
}

// Source is the polling state a sensor reads from
type Source interface {
	Data() *snapshot.Snapshot
	LastUpdateSuccess() bool
}

// Device groups the sensors of one contract account
type Device struct {
	Identifier       string `json:"identifier"`
	Name             string `json:"name"`
	Manufacturer     string `json:"manufacturer"`
	ConfigurationURL string `json:"configuration_url"`
}

// Sensor is one read-only entity
type Sensor struct {
	desc    Description
	entryID string
	pa      string
	device  Device
	src     Source
}

// State is the rendered view of a sensor
type State struct {
	UniqueID    string         `json:"unique_id"`
	Name        string         `json:"name"`
	Icon        string         `json:"icon,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Value       any            `json:"value"`
	Available   bool           `json:"available"`
	Attributes  map[string]any `json:"attributes"`
	Device      Device         `json:"device"`
	Attribution string         `json:"attribution"`
}

// Build creates the sensors of an entry. The contract account is read from
// the current data once, so callers build after the first data arrives.
func Build(entryID string, src Source) []*Sensor {
	pa := unknownPA
	if data := src.Data(); data != nil {
		if v := normalize.Text(data.Account["pa"]); v != "" {
			pa = v
		}
	}

	device := Device{
		Identifier:       "pa:" + pa,
		Name:             fmt.Sprintf("ENGIE %s", pa),
		Manufacturer:     Manufacturer,
		ConfigurationURL: "https://my.engie.ro/",
	}

	sensors := make([]*Sensor, 0, len(Sensors))
	for _, desc := range Sensors {
		sensors = append(sensors, &Sensor{desc: desc, entryID: entryID, pa: pa, device: device, src: src})
	}
	return sensors
}

// UniqueID is <entry>_<pa>_<key>
func (s *Sensor) UniqueID() string {
	return fmt.Sprintf("%s_%s_%s", s.entryID, s.pa, s.desc.Key)
}

// Available mirrors the outcome of the last cycle
func (s *Sensor) Available() bool {
	return s.src.LastUpdateSuccess()
}

// Value returns the value at the sensor's path, or nil
func (s *Sensor) Value() any {
	return Dig(s.data(), s.desc.Key)
}

// Attributes returns the invoice history and account identifiers
func (s *Sensor) Attributes() map[string]any {
	data := s.data()
	return map[string]any{
		"invoice_history": Dig(data, "invoice_history"),
		"poc":             Dig(data, "account.poc"),
		"division":        Dig(data, "account.division"),
	}
}

// State renders the sensor
func (s *Sensor) State() State {
	return State{
		UniqueID:    s.UniqueID(),
		Name:        s.desc.Name,
		Icon:        s.desc.Icon,
		Unit:        s.desc.Unit,
		Value:       s.Value(),
		Available:   s.Available(),
		Attributes:  s.Attributes(),
		Device:      s.device,
		Attribution: Attribution,
	}
}

func (s *Sensor) data() map[string]any {
	snap := s.src.Data()
	if snap == nil {
		return nil
	}
	m, err := snap.Map()
	if err != nil {
		return nil
	}
	return m
}

// Dig walks a dotted path through nested objects. Any non-object on the
// way yields nil.
func Dig(data map[string]any, path string) any {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}
