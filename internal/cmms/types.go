package cmms

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Equipment is an entry of the maintenance backend's equipment catalog.
type Equipment struct {
	ID     int        `json:"idequipo"`
	Name   string     `json:"nombreequipo"`
	Code   flexString `json:"codigointerno"`
	Status string     `json:"estado_nombre"`
}

// WorkOrder is the subset of an "orden de trabajo" the bot displays.
type WorkOrder struct {
	Number          string `json:"numeroot"`
	Status          string `json:"estado_nombre"`
	EquipmentName   string `json:"equipo_nombre"`
	MaintenanceType string `json:"tipo_mantenimiento_nombre"`
	Priority        string `json:"prioridad"`
	IssuedAt        string `json:"fechaemision"`
	ScheduledFor    string `json:"fechaejecucion"`
	Technician      string `json:"tecnico_asignado_nombre"`
	Problem         string `json:"descripcionproblemareportado"`
}

// User is a backend account that can act as requester of a fault report.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// FaultReport is the payload submitted once the user confirms a draft.
type FaultReport struct {
	EquipmentID int    `json:"idequipo"`
	Description string `json:"descripcionproblemareportado"`
	Priority    string `json:"prioridad"`
	RequesterID int    `json:"idsolicitante"`
}

// flexString accepts either a JSON string or number; internal codes come both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return string(f)
}
