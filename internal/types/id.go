// README: Identifier and caller role types shared by all modules.
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

func (id ID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// Ptr returns nil for an empty id.
func (id ID) Ptr() *ID {
	if id.Empty() {
		return nil
	}
	v := id
	return &v
}

func Deref(id *ID) ID {
	if id == nil {
		return ""
	}
	return *id
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
	RolePartner  Role = "partner"
	RoleSystem   Role = "system"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCustomer, RoleVendor, RoleDriver, RoleAdmin, RolePartner:
		return r, true
	}
	return "", false
}
