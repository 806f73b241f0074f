package auth

import (
	"slices"
	"strings"

	"pointage/internal/model"
)

// Permissions carried in tokens.
const (
	PermRead      = "attendance:read"
	PermWrite     = "attendance:write"
	PermReconcile = "attendance:reconcile"
	PermGenerate  = "qr:generate"
	PermScan      = "qr:scan"
	// PermAll lifts the city/establishment scope restriction.
	PermAll = "attendance:all"
)

// Actor is the acting user, passed explicitly to every orchestrator call.
type Actor struct {
	UserID          string
	Role            string
	City            string
	EstablishmentID string
	Permissions     []string
}

// System is the actor used by background sweeps.
func System() Actor {
	return Actor{UserID: "system", Role: "system", Permissions: []string{PermRead, PermWrite, PermReconcile, PermAll}}
}

// Can reports whether the actor holds perm.
func (a Actor) Can(perm string) bool {
	return slices.Contains(a.Permissions, perm)
}

// Covers reports whether the session lies inside the actor's scope.
func (a Actor) Covers(s model.Session) bool {
	if a.Can(PermAll) {
		return true
	}
	if a.City != "" && !strings.EqualFold(a.City, s.City) {
		return false
	}
	if a.EstablishmentID != "" && a.EstablishmentID != s.EstablishmentID {
		return false
	}
	return true
}
