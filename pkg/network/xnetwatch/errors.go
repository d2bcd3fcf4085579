package xnetwatch

import "errors"

var (
	// ErrAlreadyRunning Run 只能启动一次
	ErrAlreadyRunning = errors.New("xnetwatch: already running")

	// ErrClosed 信号源已关闭
	ErrClosed = errors.New("xnetwatch: source closed")

	// ErrInvalidQuality 无法解析的质量提示
	ErrInvalidQuality = errors.New("xnetwatch: invalid quality")

	// ErrNoAddress DialProber 未配置地址
	ErrNoAddress = errors.New("xnetwatch: probe address is empty")
)
