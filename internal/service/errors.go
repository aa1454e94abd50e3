package service

import "errors"

// 服务层错误，handler 按 errors.Is 映射成业务码
// 校验失败统一是 *validation.Error，不在这里重复定义
var (
	// 配置类
	ErrAdminUnavailable = errors.New("管理客户端不可用")

	// 投资 / 注册
	ErrInvestmentNotFound   = errors.New("未找到投资记录")
	ErrReferrerNotFound     = errors.New("推荐码不存在")
	ErrNoEligibleInvestment = errors.New("没有可用于注册的已批准投资")
	ErrAmbiguousInvestment  = errors.New("该邮箱存在多笔未认领的已批准投资，请联系管理员")
	ErrInvestmentClaimed    = errors.New("该投资已被注册认领")
	ErrEmailRegistered      = errors.New("该邮箱已注册")
	ErrStatusInvalid        = errors.New("当前状态不允许该操作")

	// 登录 / 会话
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrUserBlocked        = errors.New("账户已被封禁")
	ErrInvalidToken       = errors.New("登录已失效，请重新登录")

	// 提现
	ErrProfileNotFound         = errors.New("用户不存在")
	ErrProfileInactive         = errors.New("账户未激活")
	ErrWithdrawalNotFound      = errors.New("提现申请不存在")
	ErrWithdrawalAccountNotSet = errors.New("请先设置收款账户")
	ErrPendingWithdrawalExists = errors.New("已有一笔待审核的提现申请")
	ErrBalanceNotEnough        = errors.New("余额不足")
	ErrConcurrentUpdate        = errors.New("数据已被修改，请刷新后重试")

	// 每日收益
	ErrRunAlreadyProcessed = errors.New("该日期的收益已发放")
	ErrRunInProgress       = errors.New("该日期的收益正在发放")
	ErrInvalidRunDate      = errors.New("日期格式应为 YYYY-MM-DD")

	ErrSystemBusy = errors.New("系统繁忙，请稍后重试")
)
