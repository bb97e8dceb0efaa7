package persona

// Store 提供模拟器角色查询，handler 和 turn 服务共用。
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore holds the instructor and patient characters after avatar ids
// have been bound from configuration. It is read-only after construction.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore copies items, so later changes by the caller are not visible.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List 返回角色列表的副本。
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID 按 id 查找角色，ok 为 false 表示未知角色。
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}
