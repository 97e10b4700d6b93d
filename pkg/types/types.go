package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies which actor a session belongs to
type Role string

// ARCHITECTURAL DISCOVERY: Role constants match the values persisted in the
// client state store; the server's legacy "hospital" value maps to facility
const (
	RoleFacility  Role = "facility"
	RoleAmbulance Role = "ambulance"
	RoleCommander Role = "commander"
	RoleAdmin     Role = "admin"

	roleHospitalAlias = "hospital"
)

// Severity is the triage level attached to a referral request
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeveritySevere   Severity = "SEVERE"
	SeverityModerate Severity = "MODERATE"
	SeverityMild     Severity = "MILD"
)

// Resource is the capacity type a referral needs
type Resource string

const (
	ResourceBed        Resource = "BED"
	ResourceVentilator Resource = "VENTILATOR"
	ResourceOxygen     Resource = "OXYGEN"
)

// Session is the authenticated identity held by the client.
// A session is all-or-nothing: Token is set if and only if Role is set.
type Session struct {
	Token      string `json:"token,omitempty"`
	Role       Role   `json:"role,omitempty"`
	FacilityID string `json:"facility_id,omitempty"`
}

// IsAuthenticated reports whether a credential is present
func (s Session) IsAuthenticated() bool {
	return s.Token != ""
}

// IsZero reports whether every field is absent
func (s Session) IsZero() bool {
	return s.Token == "" && s.Role == "" && s.FacilityID == ""
}

// FacilitySnapshot is a point-in-time read of one facility's capacity.
// FUNCTIONAL DISCOVERY: occupied <= total is assumed, never enforced here
type FacilitySnapshot struct {
	FacilityID       string  `json:"facility_id"`
	Name             string  `json:"name"`
	City             string  `json:"city"`
	BedsOccupied     int     `json:"beds_occupied"`
	BedsTotal        int     `json:"beds_total"`
	VentilatorsInUse int     `json:"ventilators_in_use"`
	VentilatorsTotal int     `json:"ventilators_total"`
	OxygenPercent    float64 `json:"oxygen_percent"`
	OxygenStatus     string  `json:"oxygen_status"`
}

// NetworkSnapshot holds one FacilitySnapshot per facility, replaced wholesale on every poll
type NetworkSnapshot []FacilitySnapshot

// Find returns the snapshot for facilityID, if present
func (n NetworkSnapshot) Find(facilityID string) (FacilitySnapshot, bool) {
	for _, f := range n {
		if f.FacilityID == facilityID {
			return f, true
		}
	}
	return FacilitySnapshot{}, false
}

// ReferralRequest is built per ambulance action and never persisted
type ReferralRequest struct {
	PatientID        string   `json:"patient_id"`
	Severity         Severity `json:"patient_severity"`
	RequiredResource Resource `json:"required_resource"`
	OriginLat        float64  `json:"ambulance_lat"`
	OriginLon        float64  `json:"ambulance_lon"`
}

// FacilityMatch is one candidate returned by the matching service
type FacilityMatch struct {
	FacilityID    string  `json:"facility_id"`
	Name          string  `json:"name"`
	DistanceKm    float64 `json:"distance_km"`
	Score         float64 `json:"score"`
	BedsAvailable int     `json:"beds_available"`
}

// ReferralResult is the opaque ranking produced by the matching service.
// ARCHITECTURAL DISCOVERY: Alternatives keep server order; nothing re-sorts them
type ReferralResult struct {
	Recommended  FacilityMatch   `json:"recommended"`
	Alternatives []FacilityMatch `json:"alternatives"`
}

// ChatMessage is one entry of the shared network chat
type ChatMessage struct {
	SenderName  string `json:"sender_name"`
	MessageText string `json:"message_text"`
}

// ChatSendRequest is the body of POST /api/chat/send
type ChatSendRequest struct {
	Message string `json:"message"`
}

// LoginResponse is the body returned by the credential exchange
type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type,omitempty"`
	Role        string          `json:"role"`
	FacilityID  json.RawMessage `json:"facility_id"`
}

// FacilityIDString normalizes facility_id, which the server may send as a
// string, a number or null
func (r LoginResponse) FacilityIDString() string {
	raw := strings.TrimSpace(string(r.FacilityID))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.FacilityID, &s); err == nil {
		return s
	}
	return raw
}

// Frame is one derived presentation state pushed to viewers
type Frame struct {
	View      string      `json:"view"`
	Route     string      `json:"route"`
	Data      interface{} `json:"data"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SessionEventKind distinguishes session transitions
type SessionEventKind string

const (
	SessionLogin  SessionEventKind = "login"
	SessionLogout SessionEventKind = "logout"
)

// SessionEvent is delivered to session listeners after every transition
type SessionEvent struct {
	Kind    SessionEventKind `json:"kind"`
	Session Session          `json:"-"`
	Reason  string           `json:"reason,omitempty"`
}

// SessionAuditEntry is one recorded session transition
type SessionAuditEntry struct {
	Kind       SessionEventKind `json:"kind"`
	Role       Role             `json:"role,omitempty"`
	FacilityID string           `json:"facility_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
