package gateway

import "fmt"

const (
	RetCodeOK             = 0
	RetCodeTransportError = -1
	RetCodeInterrupted    = -2
	RetCodeNotConnected   = -3
)

// DeliveryResult mirrors the platform's {retcode, message} answer. Client-local outcomes use negative codes.
type DeliveryResult struct {
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
}

func (r DeliveryResult) OK() bool {
	return r.RetCode == RetCodeOK
}

func (r DeliveryResult) NotConnected() bool {
	return r.RetCode == RetCodeNotConnected
}

func (r DeliveryResult) Interrupted() bool {
	return r.RetCode == RetCodeInterrupted
}

func (r DeliveryResult) String() string {
	return fmt.Sprintf("DeliveryResult(%d, %q)", r.RetCode, r.Message)
}

func notConnectedResult(reason string) DeliveryResult {
	return DeliveryResult{RetCode: RetCodeNotConnected, Message: reason}
}

func interruptedResult(reason string) DeliveryResult {
	return DeliveryResult{RetCode: RetCodeInterrupted, Message: reason}
}
