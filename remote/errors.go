package remote

import (
	"errors"
	"fmt"
)

// TransientError is a vendor failure worth retrying within the same poll
// loop: timeouts, 5xx responses, unreadable bodies.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("remote %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a vendor failure that will not resolve by polling
// again: negative job states, rejected requests, a create response with
// no task id. Reason is the human readable cause.
type PermanentError struct {
	Op     string
	State  int
	Reason string
}

func (e *PermanentError) Error() string {
	return "去水印失败: " + e.Reason
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is or wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Vendor job states.
const (
	StateDone           = 1
	StateFailed         = -1
	StateUploadFailed   = -2
	StateDownloadFailed = -3
	StateTooLarge       = -5
	StateInvalidFile    = -7
)

var stateReasons = map[int]string{
	StateFailed:         "处理失败",
	StateUploadFailed:   "上传失败",
	StateDownloadFailed: "下载失败",
	StateTooLarge:       "文件超出大小限制（50MB）",
	StateInvalidFile:    "文件无效或已损坏",
}

// StateReason maps a negative vendor state to its human readable reason.
func StateReason(state int) string {
	if r, ok := stateReasons[state]; ok {
		return r
	}
	return fmt.Sprintf("未知错误（状态码 %d）", state)
}
