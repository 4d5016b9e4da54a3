package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller a reschedule operation runs on behalf of.
type Actor struct {
	UserID string
	Role   UserRole
}

// Staff reports whether the actor may act on any student's plan groups.
func (a Actor) Staff() bool {
	switch a.Role {
	case RoleSuperAdmin, RoleAdmin, RoleTeacher:
		return true
	}
	return false
}

// CanAccess reports whether the actor may reschedule a group owned by studentID.
func (a Actor) CanAccess(studentID string) bool {
	return a.Staff() || (a.UserID != "" && a.UserID == studentID)
}
