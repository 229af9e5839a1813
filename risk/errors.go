package risk

import "errors"

var (
	// ErrProfitGate 卖出价不高于入场价时由 ProfitGate 返回。
	ErrProfitGate = errors.New("sell below entry blocked by profit gate")
	// ErrNoEntry 开启利润门槛但没有可参照的入场记录。
	ErrNoEntry = errors.New("no tracked entry")
)
