package classify

// Fixed categories produced by the heuristic steps of the chain.
const (
	CategoryBankFees        = "Bankkosten"
	CategoryOtherIncome     = "Overige inkomsten"
	CategoryOtherExpense    = "Overige uitgaven"
	CategorySalary          = "Loon"
	CategoryRefunds         = "Terugbetalingen"
	CategoryCardPayments    = "Kaartuitgaven (VISA/MASTERCARD)"
	CategoryGroceries       = "Boodschappen"
	CategoryRestaurants     = "Restaurants / horeca"
	CategoryFuel            = "Brandstof"
	CategoryTravelTransport = "Reizen / transport"
	CategoryTelecom         = "Telecom"
	CategoryEnergy          = "Energie"
	CategoryInsurance       = "Verzekeringen"
	CategoryRentLoan        = "Huur / lening"
)

// movementTypeFeeIndicators flag bank management fees in the movement-type
// text ("Aanrekening beheerskost" on Belgian CSV exports).
var movementTypeFeeIndicators = []string{"aanrekeningbeheerskost", "beheerskost"}

type builtinRule struct {
	category string
	keywords []string
}

// Built-in keyword tables, consulted only after the explicit mapping rules.
// Order matters: the first rule with any matching keyword wins, so the
// broad bank-fee keywords sit last.
var incomeRules = []builtinRule{
	{CategorySalary, []string{"werkgever", "werknemer", "loon", "salary", "payroll", "wedde"}},
	{CategoryRefunds, []string{"refund", "terugbetaling", "storno"}},
}

var expenseRules = []builtinRule{
	{CategoryGroceries, []string{"delhaize", "colruyt", "aldi", "lidl", "carrefour", "albert heijn", "spar", "okay"}},
	{CategoryRestaurants, []string{"restaurant", "horeca", "brasserie", "frituur", "mcdonald", "quick", "pizza"}},
	{CategoryFuel, []string{"esso", "shell", "q8", "texaco", "tankstation", "brandstof"}},
	{CategoryTravelTransport, []string{"nmbs", "sncb", "de lijn", "mivb", "stib", "uber"}},
	{CategoryTelecom, []string{"proximus", "telenet", "orange", "scarlet", "mobile vikings"}},
	{CategoryEnergy, []string{"engie", "luminus", "eneco", "fluvius"}},
	{CategoryInsurance, []string{"verzekering", "ethias", "baloise", "ag insurance"}},
	{CategoryRentLoan, []string{"huur", "lening", "hypotheek"}},
	{CategoryCardPayments, []string{"visa", "mastercard", "maestro"}},
	{CategoryBankFees, []string{"bankkost", "kosten", "fee", "servicekost"}},
}
