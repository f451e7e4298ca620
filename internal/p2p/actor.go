package p2p

// Role is the capacity in which an actor calls the service.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleScheduler Role = "scheduler"
)

// Actor is the authenticated caller. UserID is empty for the scheduler.
type Actor struct {
	UserID string
	Role   Role
}

func User(id string) Actor { return Actor{UserID: id, Role: RoleUser} }
func Admin(id string) Actor { return Actor{UserID: id, Role: RoleAdmin} }

// Scheduler is the actor used by the expiry sweep.
func Scheduler() Actor { return Actor{Role: RoleScheduler} }

func (a Actor) is(userID string) bool {
	return a.Role == RoleUser && a.UserID != "" && a.UserID == userID
}
