package consts

const (
	Agent_WarrenBuffett = "Warren Buffett"
	Agent_CathieWood    = "Cathie Wood"
	Agent_MichaelBurry  = "Michael Burry"
	Agent_PeterLynch    = "Peter Lynch"
	Agent_Technical     = "Technical Analyst"
	Agent_Fundamentals  = "Fundamentals Analyst"
	Agent_Sentiment     = "Sentiment Analyst"
	Agent_Valuation     = "Valuation Analyst"
)

// Simulator states.
const (
	State_Initialized = "initialized"
	State_Running     = "running"
	State_Completed   = "completed"
	State_Failed      = "failed"
)
