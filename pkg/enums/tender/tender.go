package tender

type Tender struct {
	Name string
}

func (t Tender) Code() string {
	return t.Name
}

type Enum struct {
	Cash   Tender
	Credit Tender
	Custom Tender
}

var Tenders = Enum{
	Cash:   Tender{Name: "cash"},
	Credit: Tender{Name: "credit"},
	Custom: Tender{Name: "custom"},
}

var All = []Tender{
	Tenders.Cash,
	Tenders.Credit,
	Tenders.Custom,
}

// ByName returns the tender for a given name, or nil if not found
func ByName(name string) *Tender {
	for _, t := range All {
		if t.Name == name {
			return &t
		}
	}
	return nil
}
