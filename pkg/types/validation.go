package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var patientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxChatMessageLength = 2000

// ParseRole converts a server-provided role string into a Role
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RoleFacility), roleHospitalAlias:
		return RoleFacility, nil
	case string(RoleAmbulance):
		return RoleAmbulance, nil
	case string(RoleCommander):
		return RoleCommander, nil
	case string(RoleAdmin):
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// IsValidRole checks that the role is one of the known actor roles
func IsValidRole(role Role) bool {
	switch role {
	case RoleFacility, RoleAmbulance, RoleCommander, RoleAdmin:
		return true
	default:
		return false
	}
}

// Validate enforces the all-or-nothing session invariant
func (s Session) Validate() error {
	if s.IsZero() {
		return nil
	}
	if s.Token == "" || s.Role == "" {
		return ErrPartialSession
	}
	if !IsValidRole(s.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsValidSeverity checks the referral severity enum
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeveritySevere, SeverityModerate, SeverityMild:
		return true
	default:
		return false
	}
}

// IsValidResource checks the referral resource enum
func IsValidResource(r Resource) bool {
	switch r {
	case ResourceBed, ResourceVentilator, ResourceOxygen:
		return true
	default:
		return false
	}
}

// Validate ensures the referral request can be sent to the matching service
func (r *ReferralRequest) Validate() error {
	if len(r.PatientID) < 1 || len(r.PatientID) > 64 || !patientIDRegex.MatchString(r.PatientID) {
		return ErrInvalidPatientID
	}
	if !IsValidSeverity(r.Severity) {
		return ErrInvalidSeverity
	}
	if !IsValidResource(r.RequiredResource) {
		return ErrInvalidResource
	}
	if r.OriginLat < -90 || r.OriginLat > 90 || r.OriginLon < -180 || r.OriginLon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// Validate trims and checks a chat message before sending
func (c *ChatSendRequest) Validate() error {
	c.Message = strings.TrimSpace(c.Message)
	if c.Message == "" {
		return ErrEmptyChatMessage
	}
	if utf8.RuneCountInString(c.Message) > maxChatMessageLength {
		return ErrChatMessageTooLong
	}
	return nil
}
