package consts

const (
	// 分析师节点
	WarrenBuffett = "warren_buffett"
	CathieWood    = "cathie_wood"
	MichaelBurry  = "michael_burry"
	PeterLynch    = "peter_lynch"
	Technical     = "technical"
	Fundamentals  = "fundamental"
	Sentiment     = "sentiment"
	Valuation     = "valuation"

	// 决策节点
	Input            = "input"
	Aggregator       = "aggregator"
	RiskManager      = "risk_manager"
	PortfolioManager = "portfolio_manager"
)

// GraphName is the name the decision pipeline is compiled under.
const GraphName = "CortexFund-Decision"
