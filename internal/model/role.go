package model

type Role string

const (
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RoleCashier      Role = "cashier"
	RoleAdmin        Role = "admin"
)

// RecordReaders may read decrypted visit and progress note contents.
var RecordReaders = []Role{RoleDoctor, RoleNurse, RoleReceptionist, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RoleReceptionist, RoleCashier, RoleAdmin:
		return true
	}
	return false
}

// IsFrontDesk reports roles allowed to cancel waiting visits.
func (r Role) IsFrontDesk() bool {
	return r == RoleReceptionist || r == RoleAdmin
}

// CanRegister reports roles allowed to create visits at intake.
func (r Role) CanRegister() bool {
	return r.IsFrontDesk() || r == RoleNurse
}

func (r Role) CanCollectPayment() bool {
	return r == RoleCashier || r.IsFrontDesk()
}

func (r Role) CanManageAdmissions() bool {
	return r == RoleNurse || r == RoleDoctor || r == RoleAdmin
}

// Actor is the caller identity passed into every core operation.
type Actor struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

// Clinician is the subset of a staff account the encounter store needs.
type Clinician struct {
	ID        int64  `db:"id" json:"id"`
	FullName  string `db:"full_name" json:"full_name"`
	Role      Role   `db:"role" json:"role"`
	Specialty string `db:"specialty" json:"specialty"`
	Active    bool   `db:"active" json:"active"`
}
