package ws

import (
	"sort"
	"sync"
)

// registry 连接索引：按 ID、按用户、按房间
// 加锁顺序：registry.mu -> Connection.mu
type registry struct {
	mu       sync.RWMutex
	byID     map[string]*Connection
	byUser   map[string]map[string]struct{} // userID -> connID 集合
	byRoom   map[string]map[string]struct{} // room -> connID 集合
	maxConns int                            // 0 表示不限制
}

func newRegistry(maxConns int) *registry {
	return &registry{
		byID:     make(map[string]*Connection),
		byUser:   make(map[string]map[string]struct{}),
		byRoom:   make(map[string]map[string]struct{}),
		maxConns: maxConns,
	}
}

// add 添加连接
func (r *registry) add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.byID) >= r.maxConns {
		return ErrTooManyConnections
	}
	if _, exists := r.byID[c.id]; exists {
		return ErrConnectionExists
	}
	r.byID[c.id] = c
	return nil
}

// remove 从全部索引移除连接，返回它所在的房间
func (r *registry) remove(c *Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID[c.id]; !ok || cur != c {
		return nil
	}
	delete(r.byID, c.id)

	c.mu.Lock()
	userID := c.userID
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	if userID != "" {
		deleteMember(r.byUser, userID, c.id)
	}
	for _, room := range rooms {
		deleteMember(r.byRoom, room, c.id)
	}
	return rooms
}

// bindUser 认证成功后写入用户索引并完成状态迁移
// 连接已断开（认证期间被关闭）时返回 false
func (r *registry) bindUser(c *Connection, userID string, metadata map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.id]; !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.setStateLocked(StateAuthenticated) {
		return false
	}
	c.userID = userID
	for k, v := range metadata {
		c.metadata[k] = v
	}
	if userID != "" {
		addMember(r.byUser, userID, c.id)
	}
	return true
}

// join 加入房间，仅对已认证连接生效；返回是否为新加入
func (r *registry) join(c *Connection, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.id]; !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	addMember(r.byRoom, room, c.id)
	return true
}

// leave 离开房间；不在房间内时为空操作，返回 false
func (r *registry) leave(c *Connection, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.mu.Lock()
	_, ok := c.rooms[room]
	delete(c.rooms, room)
	c.mu.Unlock()

	if !ok {
		return false
	}
	deleteMember(r.byRoom, room, c.id)
	return true
}

// get 按 ID 查找
func (r *registry) get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// roomMembers 房间成员快照
func (r *registry) roomMembers(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byRoom[room])
}

// userSessions 用户的全部会话快照
func (r *registry) userSessions(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byUser[userID])
}

// hasRoom 房间是否存在（至少一个本地成员）
func (r *registry) hasRoom(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[room]
	return ok
}

// all 全部连接快照
func (r *registry) all() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	return conns
}

// authenticated 已认证连接快照
func (r *registry) authenticated() []*Connection {
	conns := r.all()
	out := conns[:0]
	for _, c := range conns {
		if c.State() == StateAuthenticated {
			out = append(out, c)
		}
	}
	return out
}

// count 连接数
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// roomCount 房间数
func (r *registry) roomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom)
}

// memberIDs 集合转有序切片
func (r *registry) memberIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// roomMemberIDs 房间成员 ID
func (r *registry) roomMemberIDs(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberIDs(r.byRoom[room])
}

// userSessionIDs 用户会话 ID
func (r *registry) userSessionIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberIDs(r.byUser[userID])
}

// collect 调用方必须持有读锁
func (r *registry) collect(set map[string]struct{}) []*Connection {
	conns := make([]*Connection, 0, len(set))
	for id := range set {
		if c, ok := r.byID[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

func addMember(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

// deleteMember 成员集合为空时删除整个键
func deleteMember(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
