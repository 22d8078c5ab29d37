package realtime

import "sync"

var (
	sharedMu sync.Mutex
	shared   *WSSocket
)

// GetConnection 返回进程内共享的 socket，首次调用时创建并开始连接。
// 之后的调用复用同一实例，token 不同则切换到新 token。
func GetConnection(opts SocketOptions) *WSSocket {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = NewWSSocket(opts)
		shared.Start()
		return shared
	}
	shared.SetToken(opts.Token)
	return shared
}

// TeardownConnection 关闭共享 socket，可重复调用；之后的 GetConnection 会新建连接。
func TeardownConnection() {
	sharedMu.Lock()
	s := shared
	shared = nil
	sharedMu.Unlock()
	if s != nil {
		s.Close()
	}
}
