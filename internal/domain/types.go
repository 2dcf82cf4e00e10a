package domain

// Direction represents trade direction as emitted by the ML signal
// and carried on positions and decisions.
type Direction int

const (
	DirectionHold Direction = iota
	DirectionBuy
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "hold"
	}
}

// Sign returns +1 for buy, -1 for sell, 0 for hold. Used to
// direction-adjust normalized indicators (0.5 neutral).
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1.0
	case DirectionSell:
		return -1.0
	default:
		return 0.0
	}
}

// Opposite returns the reverse trade direction.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionHold
	}
}

// Action represents the engine's decision with precedence semantics
// defined by the exit rule chain.
type Action int

const (
	ActionHold Action = iota
	ActionOpen
	ActionClose
	ActionPartialClose
	ActionAddWinner
	ActionAddLoser
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionPartialClose:
		return "partial_close"
	case ActionAddWinner:
		return "add_winner"
	case ActionAddLoser:
		return "add_loser"
	default:
		return "hold"
	}
}

// Timeframe identifies one indicator bundle in the snapshot.
type Timeframe int

const (
	TimeframeM1 Timeframe = iota
	TimeframeM5
	TimeframeM15
	TimeframeM30
	TimeframeH1
	TimeframeH4
	TimeframeD1
)

func (tf Timeframe) String() string {
	switch tf {
	case TimeframeM1:
		return "M1"
	case TimeframeM5:
		return "M5"
	case TimeframeM15:
		return "M15"
	case TimeframeM30:
		return "M30"
	case TimeframeH1:
		return "H1"
	case TimeframeH4:
		return "H4"
	case TimeframeD1:
		return "D1"
	default:
		return "unknown"
	}
}

// AllTimeframes lists every supported timeframe, shortest first.
func AllTimeframes() []Timeframe {
	return []Timeframe{
		TimeframeM1, TimeframeM5, TimeframeM15, TimeframeM30,
		TimeframeH1, TimeframeH4, TimeframeD1,
	}
}

// SwingBand returns the longer timeframes used for exit-relevant
// structural analysis. Short timeframes are deliberately excluded so
// position management does not react to intrabar noise.
func SwingBand() []Timeframe {
	return []Timeframe{TimeframeH1, TimeframeH4, TimeframeD1}
}
