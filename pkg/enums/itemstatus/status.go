package itemstatus

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

type Enum struct {
	New       Status
	Submitted Status
	Checked   Status
	Paid      Status
	Voided    Status
}

var Statuses = Enum{
	New:       Status{Name: "new"},
	Submitted: Status{Name: "submitted"},
	Checked:   Status{Name: "checked"},
	Paid:      Status{Name: "paid"},
	Voided:    Status{Name: "voided"},
}
