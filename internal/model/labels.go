package model

// Display names shown by the control API, kept apart from the enums themselves.
var (
	stageLabels = map[Stage]string{
		StageWatching:    "감시중",
		StageHighFormed:  "고점형성",
		StagePullback:    "눌림목",
		StageEntryReady:  "진입대기",
		StageEntered:     "보유중",
		StageFilteredOut: "제외",
		StageExpired:     "만료",
	}
	positionStatusLabels = map[PositionStatus]string{
		PositionOpen:    "오픈",
		PositionPartial: "부분청산",
		PositionClosed:  "종료",
	}
	closeReasonLabels = map[CloseReason]string{
		CloseTP1:      "1차익절",
		CloseTP2:      "2차익절",
		CloseTP3:      "3차익절",
		CloseStopLoss: "손절",
		CloseTrailing: "트레일링",
		CloseTimeExit: "시간청산",
		CloseManual:   "수동",
	}
	signalLabels = map[SignalType]string{
		SignalGapDetected:   "갭감지",
		SignalHighFormed:    "고점형성",
		SignalPullbackEntry: "눌림목진입",
		SignalTP1Exit:       "1차익절",
		SignalTP2Exit:       "2차익절",
		SignalTP3Exit:       "3차익절",
		SignalStopLossExit:  "손절",
		SignalTrailingExit:  "트레일링청산",
		SignalTimeExit:      "시간청산",
		SignalManualExit:    "수동청산",
		SignalFilteredOut:   "필터아웃",
	}
	sideLabels = map[Side]string{
		SideBuy:  "매수",
		SideSell: "매도",
	}
	orderTypeLabels = map[OrderType]string{
		OrderMarket: "시장가",
		OrderLimit:  "지정가",
	}
	tradeStatusLabels = map[TradeStatus]string{
		TradePending:   "대기",
		TradePartial:   "부분체결",
		TradeFilled:    "체결",
		TradeCancelled: "취소",
	}
)

func lookup[T ~string](table map[T]string, v T) string {
	if l, ok := table[v]; ok {
		return l
	}
	return string(v)
}

func StageLabel(s Stage) string                   { return lookup(stageLabels, s) }
func PositionStatusLabel(s PositionStatus) string { return lookup(positionStatusLabels, s) }
func CloseReasonLabel(r CloseReason) string       { return lookup(closeReasonLabels, r) }
func SignalLabel(t SignalType) string             { return lookup(signalLabels, t) }
func SideLabel(s Side) string                     { return lookup(sideLabels, s) }
func OrderTypeLabel(o OrderType) string           { return lookup(orderTypeLabels, o) }
func TradeStatusLabel(s TradeStatus) string       { return lookup(tradeStatusLabels, s) }
