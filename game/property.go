package game

// PropertyCategory 坦克配件类别，每个类别玩家只能选一个
type PropertyCategory string

const (
	CategoryChassis PropertyCategory = "chassis"
	CategoryArmor   PropertyCategory = "armor"
	CategoryWeapon  PropertyCategory = "weapon"
)

func (c PropertyCategory) Valid() bool {
	switch c {
	case CategoryChassis, CategoryArmor, CategoryWeapon:
		return true
	}
	return false
}

// Property 配件目录中的一项
type Property struct {
	ID    string           `json:"id" msgpack:"id"`
	Type  PropertyCategory `json:"type" msgpack:"type"`
	Value int              `json:"value" msgpack:"value"`
}
