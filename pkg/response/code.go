package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 鉴权错误 100xx
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 额度模块错误 200xx
	ErrQuotaDenied = 20001
	ErrUserLocked  = 20002

	// 兑换码模块错误 300xx
	ErrCouponNotFound  = 30001
	ErrCouponUsed      = 30002
	ErrCouponMalformed = 30003

	// 订单模块错误 400xx
	ErrOrderNotFound = 40001
	ErrOrderNotOwner = 40002
	ErrGateway       = 40003

	// 邀请模块错误 450xx
	ErrReferralRejected = 45001

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
	ErrNotFound        = 50004
	ErrConflict        = 50005
	ErrStorage         = 50006
)
