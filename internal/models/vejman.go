package models

import (
	"time"

	"github.com/uptrace/bun"
)

// FakturaStatus is the billing status of a case.
type FakturaStatus string

const (
	StatusNy             FakturaStatus = "Ny"
	StatusTilFakturering FakturaStatus = "Til fakturering"
	StatusFakturerIkke   FakturaStatus = "Fakturer ikke"
	StatusFaktureret     FakturaStatus = "Faktureret"

	// StatusUnknown groups cached rows that carry no status.
	StatusUnknown FakturaStatus = "Ukendt"
)

// AllStatuses lists the statuses fetched on refresh, in filter order.
var AllStatuses = []FakturaStatus{StatusNy, StatusTilFakturering, StatusFakturerIkke, StatusFaktureret}

// ParseFakturaStatus accepts one of the four known statuses.
func ParseFakturaStatus(s string) (FakturaStatus, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// VejmanKassenRow is a road-permit billing case as exchanged with the backend
// and mirrored into the local cache.
type VejmanKassenRow struct {
	bun.BaseModel `bun:"table:vejman_kassen,alias:vk"`

	ID              string   `bun:"id,pk" json:"id"`
	HenstillingID   *string  `bun:"henstilling_id" json:"HenstillingId"`
	CVR             *int     `bun:"cvr" json:"CVR"`
	Tilladelsestype *string  `bun:"tilladelsestype" json:"Tilladelsestype"`
	Kvadratmeter    *float32 `bun:"kvadratmeter" json:"Kvadratmeter"`
	Startdato       *string  `bun:"startdato" json:"Startdato"`
	Slutdato        *string  `bun:"slutdato" json:"Slutdato"`
	Adresse         *string  `bun:"adresse" json:"Adresse"`
	Forseelse       *string  `bun:"forseelse" json:"Forseelse"`
	FirmaNavn       *string  `bun:"firma_navn" json:"FirmaNavn"`
	Longitude       *float64 `bun:"longitude" json:"Longitude"`
	Latitude        *float64 `bun:"latitude" json:"Latitude"`
	FakturaStatus   *string  `bun:"faktura_status" json:"FakturaStatus"`

	// Computed locally, never stored.
	DistanceFromCurrent *float32 `bun:"-" json:"DistanceFromCurrent,omitempty"`
}

// Status returns the row status, treating a missing status as Ny.
func (r VejmanKassenRow) Status() FakturaStatus {
	if r.FakturaStatus == nil || *r.FakturaStatus == "" {
		return StatusNy
	}
	return FakturaStatus(*r.FakturaStatus)
}

// GroupKey is the status used when grouping cached rows.
func (r VejmanKassenRow) GroupKey() FakturaStatus {
	if r.FakturaStatus == nil {
		return StatusUnknown
	}
	return FakturaStatus(*r.FakturaStatus)
}

// WithStatus returns a copy carrying the given status.
func (r VejmanKassenRow) WithStatus(s FakturaStatus) VejmanKassenRow {
	v := string(s)
	r.FakturaStatus = &v
	return r
}

// CacheMeta holds bookkeeping values for the local cache.
type CacheMeta struct {
	bun.BaseModel `bun:"table:cache_meta,alias:cm"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value"`
	UpdatedAt time.Time `bun:"updated_at"`
}

// RowUpdateRequest is the edit payload accepted by the local API.
type RowUpdateRequest struct {
	Kvadratmeter    *string `json:"kvadratmeter,omitempty"`
	Tilladelsestype *string `json:"tilladelsestype,omitempty"`
	Slutdato        *string `json:"slutdato,omitempty"` // dd-MM-yyyy
	NewStatus       *string `json:"new_status,omitempty"`
}

// Tilladelsestyper are the permit types a case worker can pick.
var Tilladelsestyper = []string{
	"Henstilling Stillads m2", "Henstilling Byggeplads m2", "Henstilling Bygninger m2",
	"Henstilling Container m2", "Henstilling Kran m2", "Henstilling Lift m2",
	"Henstilling Materiel m2", "Henstilling Skurvogn m2", "Henstilling Afmærkning m2",
}

// StringPtr is a small helper for building rows in code and tests.
func StringPtr(s string) *string { return &s }
