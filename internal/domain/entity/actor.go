package entity

// Role is the functional role of an actor in the procurement workflow
type Role string

// Wire values follow the stored user role column.
const (
	RoleStaff      Role = "STAFF"
	RoleApproverL1 Role = "L1"
	RoleApproverL2 Role = "L2"
	RoleFinance    Role = "FINANCE"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// Actor is the authenticated caller of a workflow operation
type Actor struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// User is the persisted account row referenced by requests and steps
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Actor converts the account into the actor performing an operation
func (u *User) Actor() *Actor {
	return &Actor{ID: u.ID, Username: u.Username, Role: u.Role}
}
