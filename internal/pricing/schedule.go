package pricing

// Kind enumerates the supported bill-payment products.
type Kind string

const (
	KindAirtime     Kind = "airtime"
	KindData        Kind = "data"
	KindElectricity Kind = "electricity"
	KindCable       Kind = "cable"
	KindInternet    Kind = "internet"
	KindEducation   Kind = "education"
	KindInsurance   Kind = "insurance"
	KindGiftcard    Kind = "giftcard"
	KindTax         Kind = "tax"
	KindDeposit     Kind = "deposit"
	KindWithdraw    Kind = "withdraw"
)

// Direction describes which way money moves relative to the user wallet.
type Direction string

const (
	// DirectionDebit: the wallet pays for the purchase.
	DirectionDebit Direction = "debit"
	// DirectionCredit: the provider settlement tops the wallet up (deposits).
	DirectionCredit Direction = "credit"
)

// Schedule is the per-kind configuration that replaces one-handler-per-kind
// controller duplication: a single purchase path parameterized by this table.
type Schedule struct {
	Kind      Kind
	Direction Direction

	// FeeMinor is a fixed fee charged on top of the amount, in minor units.
	FeeMinor int64

	// RewardDivisor yields floor(amount/divisor) reward points on completion.
	// Zero means the kind earns no points.
	RewardDivisor int64

	// DebitUpfront moves money out before the provider call instead of on
	// settlement. Permanent failure then owes the user a compensating refund.
	DebitUpfront bool

	// RequiredParams must be present and non-empty in the provider params.
	RequiredParams []string
}

var schedules = map[Kind]Schedule{
	KindAirtime:     {Kind: KindAirtime, Direction: DirectionDebit, FeeMinor: 50, RewardDivisor: 100, RequiredParams: []string{"phone_number", "network"}},
	KindData:        {Kind: KindData, Direction: DirectionDebit, FeeMinor: 50, RewardDivisor: 200, RequiredParams: []string{"phone_number", "network", "plan_code"}},
	KindElectricity: {Kind: KindElectricity, Direction: DirectionDebit, FeeMinor: 100, RewardDivisor: 500, RequiredParams: []string{"meter_number", "disco"}},
	KindCable:       {Kind: KindCable, Direction: DirectionDebit, FeeMinor: 50, RewardDivisor: 200, RequiredParams: []string{"smartcard_number", "bouquet_code"}},
	KindInternet:    {Kind: KindInternet, Direction: DirectionDebit, FeeMinor: 50, RewardDivisor: 200, RequiredParams: []string{"account_number", "plan_code"}},
	KindEducation:   {Kind: KindEducation, Direction: DirectionDebit, FeeMinor: 100, RewardDivisor: 500, RequiredParams: []string{"exam_code", "candidate_id"}},
	KindInsurance:   {Kind: KindInsurance, Direction: DirectionDebit, FeeMinor: 100, RewardDivisor: 500, RequiredParams: []string{"policy_code"}},
	KindGiftcard:    {Kind: KindGiftcard, Direction: DirectionDebit, FeeMinor: 50, RewardDivisor: 200, RequiredParams: []string{"card_code", "recipient_email"}},
	KindTax:         {Kind: KindTax, Direction: DirectionDebit, FeeMinor: 100, RewardDivisor: 500, RequiredParams: []string{"tax_id"}},
	KindDeposit:     {Kind: KindDeposit, Direction: DirectionCredit, FeeMinor: 0, RewardDivisor: 0},
	KindWithdraw:    {Kind: KindWithdraw, Direction: DirectionDebit, FeeMinor: 50, RewardDivisor: 0, DebitUpfront: true, RequiredParams: []string{"bank_code", "account_number"}},
}

// ForKind returns the schedule for a kind, false if the kind is unknown.
func ForKind(k Kind) (Schedule, bool) {
	s, ok := schedules[k]
	return s, ok
}

// Kinds lists all configured kinds. Order is unspecified.
func Kinds() []Kind {
	out := make([]Kind, 0, len(schedules))
	for k := range schedules {
		out = append(out, k)
	}
	return out
}

// RewardPoints computes the points earned for a completed transaction amount.
func (s Schedule) RewardPoints(amountMinor int64) int64 {
	if s.RewardDivisor <= 0 || amountMinor <= 0 {
		return 0
	}
	return amountMinor / s.RewardDivisor
}

// ValidateParams checks the per-kind required provider params.
// Returns the name of the first missing param, or "".
func (s Schedule) ValidateParams(params map[string]string) string {
	for _, name := range s.RequiredParams {
		if params[name] == "" {
			return name
		}
	}
	return ""
}
