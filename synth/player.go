package synth

import "context"

// Player 抽象音频播放。由宿主 UI 层提供真实实现；
// Play 阻塞直至播放完成或上下文取消，Stop 中断当前播放且幂等。
type Player interface {
	Play(ctx context.Context, audio *Audio) error
	Stop()
}

// NopPlayer 立即完成播放的空实现，用于测试与纯文本模式。
type NopPlayer struct{}

func (NopPlayer) Play(ctx context.Context, _ *Audio) error {
	return ctx.Err()
}

func (NopPlayer) Stop() {}
