package source

// Church is the parent table church memberships point at.
type Church struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:320;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Church) TableName() string {
	return "churches"
}

// ReadingGroup is the parent table group memberships point at.
type ReadingGroup struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:320;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ReadingGroup) TableName() string {
	return "reading_groups"
}

// ChurchMembership links a user to a church. The consistency audit flags rows
// whose church no longer exists.
type ChurchMembership struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ChurchID         string `gorm:"column:church_id;size:190;not null;index"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChurchMembership) TableName() string {
	return "church_memberships"
}

// GroupMembership links a user to a reading group.
type GroupMembership struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	GroupID          string `gorm:"column:group_id;size:190;not null;index"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GroupMembership) TableName() string {
	return "group_memberships"
}
