package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kusheet/internal/model"
)

// ViewState 是聊天视图的生命周期状态。
type ViewState int

const (
	StateIdle ViewState = iota
	StateLoading
	StateReady
	StateUnmounted
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("ViewState(%d)", int(s))
	}
}

const (
	DefaultAckTimeout  = 5 * time.Second
	DefaultRESTTimeout = 3 * time.Second
)

// ViewOptions 可选参数，零值使用默认超时。
type ViewOptions struct {
	AckTimeout  time.Duration
	RESTTimeout time.Duration
	Limit       int
	// OnChange 在列表发生变化后调用，参数是到达顺序的快照。不在视图锁内调用。
	OnChange func([]model.Message)
}

// ChatView 维护一个小组聊天的本地消息列表，合并 REST 拉取、socket 推送、SSE 回退
// 与发送确认四个来源，按 ID 去重，最多保留 Limit 条。
//
// 状态：Idle -> Loading -> Ready -> Unmounted。Ready 之后 socket 连上并加入房间前由 SSE 兜底，
// 任一时刻最多一个 SSE 流。Unmount 之后不再修改任何状态。
type ChatView struct {
	groupID string
	socket  Socket
	api     ChatAPI
	opts    ViewOptions

	mu         sync.Mutex
	state      ViewState
	restricted bool // 非成员，只读且不订阅
	joined     bool
	joining    bool
	epoch      uint64 // 每次断线加一，过期的加入确认被忽略
	stream     Stream
	offs       []func()
	list       *MessageList
}

func NewChatView(groupID string, socket Socket, api ChatAPI, opts ViewOptions) *ChatView {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.RESTTimeout <= 0 {
		opts.RESTTimeout = DefaultRESTTimeout
	}
	return &ChatView{
		groupID: groupID,
		socket:  socket,
		api:     api,
		opts:    opts,
		list:    NewMessageList(opts.Limit),
	}
}

// Mount 拉取频道与最近消息并进入 Ready。拉取失败也会进入 Ready（列表为空）；
// 非成员进入只读状态，不订阅任何推送。
func (v *ChatView) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateIdle {
		v.mu.Unlock()
		return fmt.Errorf("mount in state %s", v.state)
	}
	v.state = StateLoading
	v.mu.Unlock()

	snap, err := v.api.FetchChat(ctx, v.groupID)

	v.mu.Lock()
	if v.state == StateUnmounted {
		v.mu.Unlock()
		return nil
	}
	v.state = StateReady
	switch {
	case errors.Is(err, ErrForbidden):
		v.restricted = true
		v.mu.Unlock()
		log.Printf("用户不是小组 %s 的成员，进入只读模式", v.groupID)
		return nil
	case err != nil:
		log.Printf("拉取小组 %s 聊天失败: %v", v.groupID, err)
	default:
		v.list.AddAll(snap.Messages)
	}
	v.offs = []func(){
		v.socket.On(model.EventMessage, v.onPush),
		v.socket.On(EventConnect, v.onConnect),
		v.socket.On(EventReconnect, v.onConnect),
		v.socket.On(EventDisconnect, v.onDisconnect),
	}
	v.ensureStreamLocked()
	items := v.list.Snapshot()
	v.mu.Unlock()

	v.notify(items)
	if v.socket.Connected() {
		v.join()
	}
	return nil
}

// Unmount 注销所有处理函数，尽力离开房间并关闭 SSE。可重复调用。
func (v *ChatView) Unmount() {
	v.mu.Lock()
	if v.state == StateUnmounted {
		v.mu.Unlock()
		return
	}
	wasSubscribed := v.state == StateReady && !v.restricted
	v.state = StateUnmounted
	v.teardownLocked()
	v.mu.Unlock()

	if wasSubscribed {
		v.leave()
	}
}

// Send 优先通过 socket 发送并等待 ack；socket 未就绪、ack 失败或超时则改走 REST。
// 两条路径只有一条会把确认后的消息加入列表。
func (v *ChatView) Send(ctx context.Context, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrSendFailed)
	}

	v.mu.Lock()
	switch {
	case v.state != StateReady:
		v.mu.Unlock()
		return nil, ErrNotReady
	case v.restricted:
		v.mu.Unlock()
		return nil, ErrForbidden
	}
	socketReady := v.joined
	v.mu.Unlock()

	// socket 与 REST 两条路径共用同一个 ID，ack 丢失后的 REST 重发由服务端去重
	req := model.SendRequest{ID: uuid.NewString(), GroupID: v.groupID, Content: content, MessageType: model.MessageTypeText}

	if socketReady && v.socket.Connected() {
		msg, err := v.sendViaSocket(ctx, req)
		if err == nil {
			v.append(*msg)
			return msg, nil
		}
		log.Printf("socket 发送失败，改走 REST: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, v.opts.RESTTimeout)
	defer cancel()
	msg, err := v.api.PostMessage(rctx, v.groupID, req)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			v.loseMembership()
		}
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	v.append(*msg)
	return msg, nil
}

func (v *ChatView) sendViaSocket(ctx context.Context, req model.SendRequest) (*model.Message, error) {
	actx, cancel := context.WithTimeout(ctx, v.opts.AckTimeout)
	defer cancel()
	raw, err := v.socket.EmitWithAck(actx, model.EventSend, req)
	if err != nil {
		return nil, err
	}
	var ack model.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	switch {
	case ack.Timeout:
		return nil, errors.New("server timeout")
	case !ack.OK:
		return nil, fmt.Errorf("ack error: %s", ack.Error)
	}
	if err := ack.Data.Validate(); err != nil {
		return nil, err
	}
	return ack.Data, nil
}

// Messages 返回到达顺序的消息快照。
func (v *ChatView) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list.Snapshot()
}

// OrderedBySeq 返回按服务端 seq 排序的快照。
func (v *ChatView) OrderedBySeq() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list.OrderedBySeq()
}

func (v *ChatView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Restricted 为 true 表示当前用户不是成员。
func (v *ChatView) Restricted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.restricted
}

// SocketReady 为 true 表示 socket 已连接并加入了房间。
func (v *ChatView) SocketReady() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.joined
}

// StreamOpen 为 true 表示 SSE 回退流处于打开状态。
func (v *ChatView) StreamOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream != nil
}

// join 发送加入房间请求。已加入或正在加入时直接返回。
func (v *ChatView) join() {
	v.mu.Lock()
	if v.state != StateReady || v.restricted || v.joined || v.joining {
		v.mu.Unlock()
		return
	}
	v.joining = true
	epoch := v.epoch
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), v.opts.AckTimeout)
	raw, err := v.socket.EmitWithAck(ctx, model.EventJoin, model.JoinRequest{GroupID: v.groupID})
	cancel()

	var ack model.Ack
	if err == nil {
		err = json.Unmarshal(raw, &ack)
	}

	v.mu.Lock()
	v.joining = false
	if v.state != StateReady {
		v.mu.Unlock()
		return
	}
	if epoch != v.epoch {
		// 等待 ack 期间连接断过，重连时的 connect 事件因 joining 被忽略，这里补一次
		retry := !v.restricted && !v.joined
		v.mu.Unlock()
		if retry && v.socket.Connected() {
			v.join()
		}
		return
	}
	switch {
	case err != nil:
		v.mu.Unlock()
		log.Printf("加入小组 %s 房间失败，继续使用 SSE: %v", v.groupID, err)
		return
	case ack.Error == "forbidden":
		v.mu.Unlock()
		v.loseMembership()
		return
	case !ack.OK:
		v.mu.Unlock()
		log.Printf("加入小组 %s 房间被拒绝: %s", v.groupID, ack.Error)
		return
	}
	v.joined = true
	v.closeStreamLocked()
	v.mu.Unlock()
}

func (v *ChatView) leave() {
	if err := v.socket.Emit(model.EventLeave, model.JoinRequest{GroupID: v.groupID}); err != nil && !errors.Is(err, ErrSocketUnavailable) {
		log.Printf("离开小组 %s 房间失败: %v", v.groupID, err)
	}
}

// loseMembership 在服务端确认不是成员后进入只读模式并停止所有订阅。
func (v *ChatView) loseMembership() {
	v.mu.Lock()
	if v.state != StateReady || v.restricted {
		v.mu.Unlock()
		return
	}
	v.restricted = true
	v.teardownLocked()
	v.mu.Unlock()
	log.Printf("已失去小组 %s 的成员资格", v.groupID)
	v.leave()
}

func (v *ChatView) teardownLocked() {
	for _, off := range v.offs {
		off()
	}
	v.offs = nil
	v.joined = false
	v.closeStreamLocked()
}

// onConnect 在 socket 读协程上执行，加入房间需要等待 ack，因此放到新协程。
func (v *ChatView) onConnect(json.RawMessage) {
	go v.join()
}

func (v *ChatView) onDisconnect(json.RawMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateReady {
		return
	}
	v.joined = false
	v.epoch++
	v.ensureStreamLocked()
}

func (v *ChatView) onPush(data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("推送消息解析失败，丢弃: %v", err)
		return
	}
	if err := msg.Validate(); err != nil {
		log.Printf("推送消息不合法，丢弃: %v", err)
		return
	}
	if msg.GroupID != "" && msg.GroupID != v.groupID {
		return
	}
	v.append(msg)
}

func (v *ChatView) onStreamMessage(msg model.Message) {
	if msg.GroupID != "" && msg.GroupID != v.groupID {
		return
	}
	v.append(msg)
}

func (v *ChatView) append(msg model.Message) {
	v.mu.Lock()
	if v.state != StateReady || !v.list.Add(msg) {
		v.mu.Unlock()
		return
	}
	items := v.list.Snapshot()
	v.mu.Unlock()
	v.notify(items)
}

func (v *ChatView) notify(items []model.Message) {
	if v.opts.OnChange != nil {
		v.opts.OnChange(items)
	}
}

// ensureStreamLocked 在未加入房间时打开 SSE，已有流则不重复打开。
func (v *ChatView) ensureStreamLocked() {
	if v.state != StateReady || v.restricted || v.joined || v.stream != nil {
		return
	}
	v.stream = v.api.OpenStream(v.groupID, v.onStreamMessage)
}

func (v *ChatView) closeStreamLocked() {
	if v.stream != nil {
		v.stream.Close()
		v.stream = nil
	}
}
