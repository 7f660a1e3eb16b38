package orderstatus

type Status struct {
	Name string
	rank int
}

func (s Status) Code() string {
	return s.Name
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s.Name == Statuses.Voided.Name || s.Name == Statuses.Closed.Name
}

type Enum struct {
	New       Status
	Submitted Status
	Checked   Status
	Printed   Status
	Voided    Status
	Closed    Status
}

var Statuses = Enum{
	New:       Status{Name: "new", rank: 0},
	Submitted: Status{Name: "submitted", rank: 1},
	Checked:   Status{Name: "checked", rank: 2},
	Printed:   Status{Name: "printed", rank: 3},
	Voided:    Status{Name: "voided", rank: 9},
	Closed:    Status{Name: "closed", rank: 9},
}

var All = []Status{
	Statuses.New,
	Statuses.Submitted,
	Statuses.Checked,
	Statuses.Printed,
	Statuses.Voided,
	Statuses.Closed,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// Advances reports whether moving from one status to another goes forward
// in the open lifecycle. Unknown names never advance.
func Advances(from, to string) bool {
	f, t := ByName(from), ByName(to)
	if f == nil || t == nil || f.Terminal() {
		return false
	}
	return t.rank > f.rank
}
