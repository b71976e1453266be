package models

type UserRole string

const (
	UserRolePatient UserRole = "patient"
	UserRoleDoctor  UserRole = "doctor"
	UserRoleNurse   UserRole = "nurse"
)

func IsValidUserRole(role string) bool {
	switch UserRole(role) {
	case UserRolePatient, UserRoleDoctor, UserRoleNurse:
		return true
	}
	return false
}

// User is a directory record. Connections holds the emails of the users on
// the other end of each sharing relationship; it mirrors the flat email set
// the sharing workflows key the object-store namespace on.
type User struct {
	BaseModel
	Email        string   `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string   `json:"-" gorm:"type:text;not null"`
	FirstName    string   `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName     string   `json:"lastName" gorm:"type:varchar(100);not null"`
	Role         UserRole `json:"role" gorm:"type:varchar(20);not null"`
	Connections  []string `json:"connections" gorm:"type:text;serializer:json"`
}

func (u *User) HasConnection(email string) bool {
	for _, e := range u.Connections {
		if e == email {
			return true
		}
	}
	return false
}
