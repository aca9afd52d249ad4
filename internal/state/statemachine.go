package state

import "fmt"

// 对局状态，只能向前推进
const (
	StateOpen     = "open"     // 下注中（open_time ~ lock_time）
	StateLocked   = "locked"   // 已封盘
	StateDrawn    = "drawn"    // 已开奖，结果已落库
	StateSettled  = "settled"  // 已结算
	StateArchived = "archived" // 已归档，只读
)

// 对局事件
const (
	EvtLock    = "lock"
	EvtDraw    = "draw"
	EvtSettle  = "settle"
	EvtArchive = "archive"
)

// 库中状态码
const (
	CodeOpen     int8 = 1
	CodeLocked   int8 = 2
	CodeDrawn    int8 = 3
	CodeSettled  int8 = 4
	CodeArchived int8 = 5
)

var transitions = map[string]map[string]string{
	StateOpen:    {EvtLock: StateLocked},
	StateLocked:  {EvtDraw: StateDrawn},
	StateDrawn:   {EvtSettle: StateSettled},
	StateSettled: {EvtArchive: StateArchived},
}

// NextState 根据当前状态与事件计算下一个状态，非法转换报错
func NextState(cur, evt string) (string, error) {
	if next, ok := transitions[cur][evt]; ok {
		return next, nil
	}
	return cur, fmt.Errorf("invalid transition: %s --%s--> ?", cur, evt)
}

func ToCode(s string) int8 {
	switch s {
	case StateOpen:
		return CodeOpen
	case StateLocked:
		return CodeLocked
	case StateDrawn:
		return CodeDrawn
	case StateSettled:
		return CodeSettled
	case StateArchived:
		return CodeArchived
	}
	return 0
}

func FromCode(c int8) string {
	switch c {
	case CodeOpen:
		return StateOpen
	case CodeLocked:
		return StateLocked
	case CodeDrawn:
		return StateDrawn
	case CodeSettled:
		return StateSettled
	case CodeArchived:
		return StateArchived
	}
	return ""
}

// Terminal 归档后不再变化
func Terminal(c int8) bool { return c == CodeArchived }
