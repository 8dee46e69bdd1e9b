package registry

import (
	"sync"

	"go.uber.org/zap"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/logger"
)

// Conn 注册表持有的连接句柄
type Conn interface {
	// ID 返回进程内唯一的连接ID
	ID() string
	// Enqueue 非阻塞地把事件放入连接的发送队列，队列已满或连接已关闭时返回 false
	Enqueue(ev domain.Event) bool
	// Close 关闭发送队列，之后的 Enqueue 均返回 false
	Close()
}

type entry struct {
	conn     Conn
	identity *domain.Identity
}

// Stats 注册表统计
type Stats struct {
	Connections   int
	Authenticated int
	Identities    int
}

// Registry 连接注册表
//
// conns 和 mailboxes 两个索引由同一把锁保护，任何读写都在锁内完成，
// 因此 Bind、Unbind、MailboxOf 之间是线性一致的。
// 扇出时目标连接在锁内从信箱解析，已注销的连接不会再收到事件。
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*entry              // connID -> entry
	mailboxes map[string]map[string]struct{} // identityID -> connID set
	log       *zap.Logger
}

// New 创建连接注册表
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		conns:     make(map[string]*entry),
		mailboxes: make(map[string]map[string]struct{}),
		log:       log,
	}
}

// Register 登记一个新连接（尚未绑定身份）
func (r *Registry) Register(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return domain.ErrConnectionExists
	}
	r.conns[conn.ID()] = &entry{conn: conn}
	return nil
}

// Bind 将连接绑定到身份并加入该身份的信箱
//
// 同一身份重复绑定为空操作；已绑定其他身份时返回 domain.ErrIdentityConflict。
func (r *Registry) Bind(connID string, identity domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return domain.ErrConnectionNotFound
	}

	if e.identity != nil {
		if e.identity.ID == identity.ID {
			return nil
		}
		return domain.ErrIdentityConflict
	}

	bound := identity
	e.identity = &bound

	box, ok := r.mailboxes[identity.ID]
	if !ok {
		box = make(map[string]struct{})
		r.mailboxes[identity.ID] = box
	}
	box[connID] = struct{}{}

	r.log.Debug("connection bound",
		logger.ConnID(connID),
		logger.UserID(identity.ID),
		zap.Int("mailbox_size", len(box)))

	return nil
}

// Unbind 注销连接：从信箱移除、删除空信箱并关闭连接的发送队列
//
// 连接不存在时返回 false。关闭发生在锁内，解锁后不会有扇出再写入该连接。
func (r *Registry) Unbind(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unbindLocked(connID)
}

func (r *Registry) unbindLocked(connID string) bool {
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)

	if e.identity != nil {
		if box, exists := r.mailboxes[e.identity.ID]; exists {
			delete(box, connID)
			if len(box) == 0 {
				delete(r.mailboxes, e.identity.ID)
			}
		}
	}

	e.conn.Close()
	return true
}

// MailboxOf 返回身份当前在线连接ID的快照
func (r *Registry) MailboxOf(identityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	box := r.mailboxes[identityID]
	ids := make([]string, 0, len(box))
	for id := range box {
		ids = append(ids, id)
	}
	return ids
}

// IsBound 判断连接是否已绑定身份
func (r *Registry) IsBound(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	return ok && e.identity != nil
}

// IdentityOf 返回连接绑定的身份
func (r *Registry) IdentityOf(connID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok || e.identity == nil {
		return domain.Identity{}, false
	}
	return *e.identity, true
}

// Deliver 向单个连接投递事件，连接已注销时静默丢弃
func (r *Registry) Deliver(connID string, ev domain.Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	return e.conn.Enqueue(ev)
}

// DeliverToMailbox 向身份信箱中的每个连接投递事件
//
// 参数:
//   - identityID: 目标身份
//   - ev: 出站事件
//   - excludeConnID: 需要跳过的连接（为空则不跳过）
//
// 单个连接投递失败不影响其余连接。
func (r *Registry) DeliverToMailbox(identityID string, ev domain.Event, excludeConnID string) domain.DeliveryReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var report domain.DeliveryReport
	for connID := range r.mailboxes[identityID] {
		if connID == excludeConnID {
			continue
		}
		report.Targets++
		if r.conns[connID].conn.Enqueue(ev) {
			report.Delivered++
		} else {
			r.log.Warn("delivery dropped",
				logger.ConnID(connID),
				logger.UserID(identityID),
				zap.String("event", string(ev.Name)))
		}
	}
	return report
}

// Stats 返回当前统计
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Connections: len(r.conns),
		Identities:  len(r.mailboxes),
	}
	for _, e := range r.conns {
		if e.identity != nil {
			stats.Authenticated++
		}
	}
	return stats
}

// Shutdown 注销全部连接，返回注销数量
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.unbindLocked(id)
	}

	r.log.Info("registry shut down", zap.Int("connections", len(ids)))
	return len(ids)
}
