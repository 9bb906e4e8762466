package userdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Permission is a capability label granting access to one category of privileged
// operation. The set is closed; anything else is rejected at edit time.
type Permission string

const (
	PermUserAdd   Permission = "USER_ADD"
	PermUserList  Permission = "USER_LIST"
	PermUserEdit  Permission = "USER_EDIT"
	PermUserReset Permission = "USER_RESET"
	PermAlertAdd  Permission = "ALERT_ADD"
	PermAlertList Permission = "ALERT_LIST"
	PermAlertEdit Permission = "ALERT_EDIT"
	PermSearch    Permission = "SEARCH"
	PermTail      Permission = "TAIL"
)

func AllPermissions() []Permission {
	return []Permission{
		PermUserAdd,
		PermUserList,
		PermUserEdit,
		PermUserReset,
		PermAlertAdd,
		PermAlertList,
		PermAlertEdit,
		PermSearch,
		PermTail,
	}
}

func IsValidPermission(p Permission) bool {
	for _, v := range AllPermissions() {
		if p == v {
			return true
		}
	}
	return false
}

// User is an operator account. Accounts are never hard-deleted; Active=false is the
// deletion-equivalent. Password and Token only ever hold hashes.
type User struct {
	BaseModel
	Email               string                        `json:"email"`
	Password            []byte                        `json:"-" gorm:"default:null"` // pwdhash.HashPassword blob
	Token               []byte                        `json:"-" gorm:"default:null"` // pwdhash.HashSessionToken of the live session token
	Active              bool                          `json:"active"`
	ForcePasswordChange bool                          `json:"forcePasswordChange"`
	Permissions         *dbh.JSONField[[]Permission]  `json:"permissions"`
	CreatedAt           dbh.IntTime                   `json:"createdAt"`
}

func (u *User) PermissionList() []Permission {
	if u.Permissions == nil {
		return nil
	}
	return u.Permissions.Data
}

func (u *User) HasPermission(p Permission) bool {
	for _, v := range u.PermissionList() {
		if v == p {
			return true
		}
	}
	return false
}

// PriorPassword is one entry in a user's bounded password history.
type PriorPassword struct {
	BaseModel
	UserID    int64       `json:"userID"`
	Password  []byte      `json:"-"`
	CreatedAt dbh.IntTime `json:"createdAt"`
}
