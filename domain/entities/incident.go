package entities

import (
	"errors"
	"fmt"
	"strings"
)

// EmergencyType categorizes the incident
type EmergencyType string

const (
	EmergencyTypeMedical         EmergencyType = "medical"
	EmergencyTypeFire            EmergencyType = "fire"
	EmergencyTypePolice          EmergencyType = "police"
	EmergencyTypeTrafficAccident EmergencyType = "traffic_accident"
	EmergencyTypeHazmat          EmergencyType = "hazmat"
	EmergencyTypeUnknown         EmergencyType = "unknown"
)

// EmergencyTypes lists every accepted emergency type in declaration order
var EmergencyTypes = []EmergencyType{
	EmergencyTypeMedical,
	EmergencyTypeFire,
	EmergencyTypePolice,
	EmergencyTypeTrafficAccident,
	EmergencyTypeHazmat,
	EmergencyTypeUnknown,
}

// AgeGroup is the approximate age of the victim(s)
type AgeGroup string

const (
	AgeGroupChild   AgeGroup = "child"
	AgeGroupAdult   AgeGroup = "adult"
	AgeGroupSenior  AgeGroup = "senior"
	AgeGroupMixed   AgeGroup = "mixed"
	AgeGroupUnknown AgeGroup = "unknown"
)

// AgeGroups lists every accepted age group in declaration order
var AgeGroups = []AgeGroup{
	AgeGroupChild,
	AgeGroupAdult,
	AgeGroupSenior,
	AgeGroupMixed,
	AgeGroupUnknown,
}

// NotAvailable is the placeholder for string fields nobody has filled yet
const NotAvailable = "N/A"

// Record field names, as used by the verification and question capabilities
const (
	FieldCallerName        = "caller_name"
	FieldEmergencyType     = "emergency_type"
	FieldLocation          = "location"
	FieldPeopleInvolved    = "people_involved"
	FieldAgeGroup          = "age_group"
	FieldImmediateDangers  = "immediate_dangers"
	FieldMedicalConditions = "medical_conditions"
	FieldDescription       = "description"
)

// IncidentRecord is the structured report built up over a conversation
type IncidentRecord struct {
	CallerName        string        `json:"caller_name" bson:"caller_name" firestore:"caller_name"`
	EmergencyType     EmergencyType `json:"emergency_type" bson:"emergency_type" firestore:"emergency_type"`
	Location          string        `json:"location" bson:"location" firestore:"location"`
	PeopleInvolved    int           `json:"people_involved" bson:"people_involved" firestore:"people_involved"`
	AgeGroup          AgeGroup      `json:"age_group" bson:"age_group" firestore:"age_group"`
	ImmediateDangers  string        `json:"immediate_dangers" bson:"immediate_dangers" firestore:"immediate_dangers"`
	MedicalConditions string        `json:"medical_conditions" bson:"medical_conditions" firestore:"medical_conditions"`
	Description       string        `json:"description" bson:"description" firestore:"description"`
}

// NewIncidentRecord returns a record holding the defaults for every field
func NewIncidentRecord() IncidentRecord {
	return IncidentRecord{
		CallerName:        NotAvailable,
		EmergencyType:     EmergencyTypeUnknown,
		Location:          NotAvailable,
		PeopleInvolved:    1,
		AgeGroup:          AgeGroupUnknown,
		ImmediateDangers:  NotAvailable,
		MedicalConditions: NotAvailable,
		Description:       "",
	}
}

// IsValidEmergencyType reports whether t is one of the known emergency types
func IsValidEmergencyType(t EmergencyType) bool {
	for _, known := range EmergencyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsValidAgeGroup reports whether g is one of the known age groups
func IsValidAgeGroup(g AgeGroup) bool {
	for _, known := range AgeGroups {
		if g == known {
			return true
		}
	}
	return false
}

// IsPlaceholder reports whether a free-text field still carries no real information
func IsPlaceholder(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || strings.EqualFold(v, NotAvailable) || strings.EqualFold(v, "None")
}

// HasConcreteDanger reports whether the record satisfies the medical danger rule.
// Non-medical records always satisfy it.
func (r IncidentRecord) HasConcreteDanger() bool {
	if r.EmergencyType != EmergencyTypeMedical {
		return true
	}
	return !IsPlaceholder(r.ImmediateDangers)
}

// Validate checks enum membership and numeric ranges
func (r IncidentRecord) Validate() error {
	if !IsValidEmergencyType(r.EmergencyType) {
		return fmt.Errorf("invalid emergency_type %q", r.EmergencyType)
	}
	if !IsValidAgeGroup(r.AgeGroup) {
		return fmt.Errorf("invalid age_group %q", r.AgeGroup)
	}
	if r.PeopleInvolved < 0 {
		return errors.New("people_involved must not be negative")
	}
	return nil
}
