package models

// Plan тарифный план подписки.
type Plan string

const (
	PlanMonthly    Plan = "monthly"
	PlanSemiannual Plan = "semiannual"
	PlanAnnual     Plan = "annual"
)

// DefaultCurrency валюта, в которой заданы цены планов.
const DefaultCurrency = "eur"

// PlanInfo описание тарифа: цена в минимальных единицах валюты и длительность в месяцах.
type PlanInfo struct {
	Plan   Plan  `json:"plan"`
	Amount int64 `json:"amount"`
	Months int   `json:"months"`
}

var planTable = []PlanInfo{
	{Plan: PlanMonthly, Amount: 20000, Months: 1},
	{Plan: PlanSemiannual, Amount: 80000, Months: 6},
	{Plan: PlanAnnual, Amount: 120000, Months: 12},
}

// Plans возвращает каталог тарифов в порядке возрастания длительности.
func Plans() []PlanInfo {
	out := make([]PlanInfo, len(planTable))
	copy(out, planTable)
	return out
}

func (p Plan) info() (PlanInfo, bool) {
	for _, info := range planTable {
		if info.Plan == p {
			return info, true
		}
	}
	return PlanInfo{}, false
}

// Valid сообщает, входит ли план в закрытый перечень.
func (p Plan) Valid() bool {
	_, ok := p.info()
	return ok
}

// Amount цена плана в минимальных единицах валюты, 0 для неизвестного плана.
func (p Plan) Amount() int64 {
	info, _ := p.info()
	return info.Amount
}

// Months длительность плана в календарных месяцах, 0 для неизвестного плана.
func (p Plan) Months() int {
	info, _ := p.info()
	return info.Months
}
