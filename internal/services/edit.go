package services

import (
	"errors"
	"strings"

	"tilsynsapp/internal/models"
	"tilsynsapp/internal/utils"
)

// MsgInvalidKvadratmeter is shown when the area is not a decimal number.
const MsgInvalidKvadratmeter = "Ugyldigt tal – kun decimaltal tilladt (brug . eller ,)"

var (
	ErrNotEditable   = errors.New("row can only be edited while its status is Ny")
	ErrActionInvalid = errors.New("action not available for this status")
)

// EditAction is one of the buttons offered for a row. A nil NewStatus saves
// the fields as a draft without changing status.
type EditAction struct {
	Label     string                `json:"label"`
	NewStatus *models.FakturaStatus `json:"new_status,omitempty"`
}

func statusAction(label string, s models.FakturaStatus) EditAction {
	return EditAction{Label: label, NewStatus: &s}
}

// EditSession holds the edit form for one row.
type EditSession struct {
	row    models.VejmanKassenRow
	status models.FakturaStatus

	kvadratmeter    string
	tilladelsestype string
	slutdato        string // dd-MM-yyyy

	kvadratmeterValid bool
	dateValid         bool
	unsaved           bool
}

func NewEditSession(row models.VejmanKassenRow) *EditSession {
	e := &EditSession{
		row:               row,
		status:            row.Status(),
		kvadratmeter:      utils.FormatKvadratmeter(row.Kvadratmeter),
		slutdato:          utils.BackendToDisplay(row.Slutdato),
		kvadratmeterValid: true,
		dateValid:         true,
	}
	if row.Tilladelsestype != nil {
		e.tilladelsestype = *row.Tilladelsestype
	}
	return e
}

func (e *EditSession) Row() models.VejmanKassenRow { return e.row }
func (e *EditSession) Status() models.FakturaStatus { return e.status }
func (e *EditSession) Editable() bool { return e.status == models.StatusNy }
func (e *EditSession) HasUnsavedChanges() bool { return e.unsaved && e.Editable() }
func (e *EditSession) KvadratmeterValid() bool { return e.kvadratmeterValid }
func (e *EditSession) DateValid() bool { return e.dateValid }
func (e *EditSession) KvadratmeterText() string { return e.kvadratmeter }
func (e *EditSession) TilladelsestypeText() string { return e.tilladelsestype }
func (e *EditSession) SlutdatoText() string { return e.slutdato }

// SetKvadratmeter keeps digits and decimal separators only.
func (e *EditSession) SetKvadratmeter(text string) error {
	if !e.Editable() {
		return ErrNotEditable
	}
	e.kvadratmeter = utils.FilterDecimalInput(text)
	e.kvadratmeterValid = utils.ParseKvadratmeter(e.kvadratmeter) != nil
	e.unsaved = true
	return nil
}

func (e *EditSession) SetTilladelsestype(t string) error {
	if !e.Editable() {
		return ErrNotEditable
	}
	e.tilladelsestype = strings.TrimSpace(t)
	e.unsaved = true
	return nil
}

// SetSlutdato takes the end date as dd-MM-yyyy.
func (e *EditSession) SetSlutdato(text string) error {
	if !e.Editable() {
		return ErrNotEditable
	}
	e.slutdato = strings.TrimSpace(text)
	_, err := utils.ParseDisplayDate(e.slutdato)
	e.dateValid = err == nil
	e.unsaved = true
	return nil
}

// Actions lists what the user may do with the row in its current status.
func (e *EditSession) Actions() []EditAction {
	switch e.status {
	case models.StatusNy:
		return []EditAction{
			{Label: "Gem kladde"},
			statusAction("Fakturer ikke", models.StatusFakturerIkke),
			statusAction("Send til fakturering", models.StatusTilFakturering),
		}
	case models.StatusTilFakturering:
		return []EditAction{statusAction("Fortryd fakturering", models.StatusNy)}
	case models.StatusFakturerIkke:
		return []EditAction{statusAction("Markér som ny igen", models.StatusNy)}
	default:
		return nil
	}
}

// ActionFor finds the allowed action leading to newStatus (nil for a draft).
func (e *EditSession) ActionFor(newStatus *models.FakturaStatus) (EditAction, error) {
	for _, a := range e.Actions() {
		if a.NewStatus == nil && newStatus == nil {
			return a, nil
		}
		if a.NewStatus != nil && newStatus != nil && *a.NewStatus == *newStatus {
			return a, nil
		}
	}
	return EditAction{}, ErrActionInvalid
}

// Build returns the row to submit for action. While editable, the form
// fields are applied: an unparseable area or date becomes nil. Status
// reversals only change the status.
func (e *EditSession) Build(action EditAction) models.VejmanKassenRow {
	row := e.row
	if !e.Editable() {
		if action.NewStatus != nil {
			row = row.WithStatus(*action.NewStatus)
		}
		return row
	}

	row.Kvadratmeter = utils.ParseKvadratmeter(e.kvadratmeter)
	row.Tilladelsestype = nil
	if e.tilladelsestype != "" {
		row.Tilladelsestype = models.StringPtr(e.tilladelsestype)
	}
	// an untouched date keeps the backend's own representation
	if e.slutdato != utils.BackendToDisplay(e.row.Slutdato) || e.slutdato == "" {
		row.Slutdato = nil
		if d, err := utils.DisplayToBackend(e.slutdato); err == nil {
			row.Slutdato = &d
		}
	}
	return row
}
